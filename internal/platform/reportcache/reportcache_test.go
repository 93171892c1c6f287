package reportcache

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	if f.failGet != nil {
		return goredis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd {
	if f.failSet != nil {
		return goredis.NewStatusResult("", f.failSet)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = ttl
	return goredis.NewStatusResult("OK", nil)
}

type report struct {
	Score  int      `json:"score"`
	Passed bool     `json:"passed"`
	Weak   []string `json:"weak"`
}

func TestKey(t *testing.T) {
	if got := Key("acme", KindQuiz, "a1"); got != "carelearn:report:acme:quiz:a1" {
		t.Errorf("unexpected key %q", got)
	}
	if got := Key("", KindInsight, "a1"); got != "carelearn:report:default:insight:a1" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRedis_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	c := NewRedis(fake, 10*time.Minute)
	ctx := context.Background()
	key := Key("acme", KindQuiz, "a1")

	if err := c.Set(ctx, key, report{Score: 80, Passed: true, Weak: []string{"Network"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.ttls[key] != 10*time.Minute {
		t.Errorf("expected ttl 10m, got %s", fake.ttls[key])
	}

	var got report
	found, err := c.Get(ctx, key, &got)
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got.Score != 80 || !got.Passed || len(got.Weak) != 1 {
		t.Errorf("unexpected report %+v", got)
	}
}

func TestRedis_Miss(t *testing.T) {
	c := NewRedis(newFakeRedis(), time.Minute)
	var got report
	found, err := c.Get(context.Background(), "missing", &got)
	if err != nil || found {
		t.Errorf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestRedis_Errors(t *testing.T) {
	fake := newFakeRedis()
	fake.failGet = errors.New("connection refused")
	fake.failSet = errors.New("connection refused")
	c := NewRedis(fake, time.Minute)

	var got report
	if _, err := c.Get(context.Background(), "k", &got); err == nil {
		t.Error("expected get error")
	}
	if err := c.Set(context.Background(), "k", report{}); err == nil {
		t.Error("expected set error")
	}
}

func TestRedis_CorruptValue(t *testing.T) {
	fake := newFakeRedis()
	fake.values["k"] = "{not json"
	var got report
	if _, err := NewRedis(fake, time.Minute).Get(context.Background(), "k", &got); err == nil {
		t.Error("expected decode error")
	}
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	if err := c.Set(context.Background(), "k", report{Score: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got report
	if found, err := c.Get(context.Background(), "k", &got); found || err != nil {
		t.Errorf("expected miss, got found=%v err=%v", found, err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Error("expected parse error")
	}
}
