package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Color is one of the four colour energies of an insight discovery quiz.
type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
)

// colorOrder breaks ties between equally scored colours.
var colorOrder = []Color{ColorRed, ColorYellow, ColorGreen, ColorBlue}

// Valid reports whether c is one of the four colour energies.
func (c Color) Valid() bool {
	_, ok := colorTraits[c]
	return ok
}

// ColorTraits is the static profile content of one colour energy.
type ColorTraits struct {
	Name               string   `json:"name"`
	Strengths          []string `json:"strengths"`
	DevelopmentAreas   []string `json:"development_areas"`
	WorkingStyle       string   `json:"working_style"`
	CommunicationStyle string   `json:"communication_style"`
	FlexTip            string   `json:"-"`
}

var colorTraits = map[Color]ColorTraits{
	ColorRed: {
		Name:               "Fiery Red",
		Strengths:          []string{"Decisive", "Results-focused", "Direct", "Competitive"},
		DevelopmentAreas:   []string{"Patience with others", "Listening before deciding", "Attention to relationships"},
		WorkingStyle:       "Drives toward goals quickly, takes charge and prefers action over discussion.",
		CommunicationStyle: "Brief and to the point; wants the bottom line first.",
		FlexTip:            "take the lead on a decision and state your position directly",
	},
	ColorYellow: {
		Name:               "Sunshine Yellow",
		Strengths:          []string{"Enthusiastic", "Persuasive", "Creative", "Sociable"},
		DevelopmentAreas:   []string{"Follow-through on details", "Time management", "Staying focused on one task"},
		WorkingStyle:       "Energises the team, generates ideas and thrives on collaboration.",
		CommunicationStyle: "Expressive and animated; enjoys brainstorming and big-picture talk.",
		FlexTip:            "share ideas openly and bring energy to group discussions",
	},
	ColorGreen: {
		Name:               "Earth Green",
		Strengths:          []string{"Supportive", "Patient", "Reliable", "Good listener"},
		DevelopmentAreas:   []string{"Asserting own views", "Embracing change", "Saying no"},
		WorkingStyle:       "Builds harmony, values consensus and works steadily with others.",
		CommunicationStyle: "Warm and considerate; prefers personal, unhurried conversations.",
		FlexTip:            "slow down to listen and check how decisions affect the people involved",
	},
	ColorBlue: {
		Name:               "Cool Blue",
		Strengths:          []string{"Analytical", "Precise", "Organised", "Thorough"},
		DevelopmentAreas:   []string{"Acting without complete data", "Flexibility", "Expressing feelings"},
		WorkingStyle:       "Works methodically, values accuracy and plans before acting.",
		CommunicationStyle: "Detailed and factual; wants evidence and written follow-up.",
		FlexTip:            "prepare thoroughly and back your proposals with data",
	},
}

// colorCombinations describes a dominant/secondary pairing.
var colorCombinations = map[[2]Color]string{
	{ColorRed, ColorYellow}:   "Red with Yellow makes you a motivating driver: you set ambitious goals and rally people around them.",
	{ColorRed, ColorGreen}:    "Red with Green blends determination with care: you push for results while keeping the team on side.",
	{ColorRed, ColorBlue}:     "Red with Blue makes you a strategic executor: you decide quickly but on the basis of solid facts.",
	{ColorYellow, ColorRed}:   "Yellow with Red makes you an energetic influencer who turns enthusiasm into action.",
	{ColorYellow, ColorGreen}: "Yellow with Green makes you an encouraging connector who builds warm, positive teams.",
	{ColorYellow, ColorBlue}:  "Yellow with Blue pairs creativity with structure: you generate ideas and can plan them through.",
	{ColorGreen, ColorRed}:    "Green with Red makes you a steady achiever: supportive, yet willing to push when it matters.",
	{ColorGreen, ColorYellow}: "Green with Yellow makes you a natural supporter who keeps morale high and relationships strong.",
	{ColorGreen, ColorBlue}:   "Green with Blue makes you a dependable coordinator: patient, careful and consistent.",
	{ColorBlue, ColorRed}:     "Blue with Red makes you a rigorous decision-maker who pairs analysis with drive.",
	{ColorBlue, ColorYellow}:  "Blue with Yellow lets you present detailed thinking in an engaging way.",
	{ColorBlue, ColorGreen}:   "Blue with Green makes you a careful observer: thoughtful, thorough and considerate of others.",
}

// TraitsFor returns the static trait table entry for c.
func TraitsFor(c Color) (ColorTraits, bool) {
	t, ok := colorTraits[c]
	return t, ok
}

// ColorScore is the tally of one colour energy.
type ColorScore struct {
	Color      Color  `json:"color"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// InsightProfile is the outcome of an insight discovery attempt.
type InsightProfile struct {
	TotalAnswered      int          `json:"total_answered"`
	ColorScores        []ColorScore `json:"color_scores"`
	DominantColor      ColorScore   `json:"dominant_color"`
	SecondaryColor     ColorScore   `json:"secondary_color"`
	Strengths          []string     `json:"strengths"`
	DevelopmentAreas   []string     `json:"development_areas"`
	WorkingStyle       string       `json:"working_style"`
	CommunicationStyle string       `json:"communication_style"`
	Recommendations    string       `json:"recommendations"`
}

// GenerateInsightDiscoveryReport tallies the colour of each chosen option
// and builds a profile around the dominant colour.
//
// Every answer whose question is found counts toward the denominator. A
// chosen option that cannot be matched, or that carries an unknown colour,
// adds to the denominator only, so percentages may sum to less than 100.
func GenerateInsightDiscoveryReport(attempt AttemptInput, questions []QuestionInput) *InsightProfile {
	byID := make(map[uuid.UUID]*QuestionInput, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	counts := make(map[Color]int, len(colorOrder))
	total := 0
	for _, a := range attempt.Answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		total++
		if opt := matchOption(q.Options, a.SelectedAnswer); opt != nil && opt.Color.Valid() {
			counts[opt.Color]++
		}
	}

	scores := make([]ColorScore, 0, len(colorOrder))
	for _, c := range colorOrder {
		scores = append(scores, ColorScore{
			Color:      c,
			Name:       colorTraits[c].Name,
			Count:      counts[c],
			Percentage: percent(counts[c], total),
		})
	}
	// stable: equal counts keep colorOrder
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Count > scores[j].Count })

	profile := &InsightProfile{
		TotalAnswered:   total,
		ColorScores:     scores,
		Recommendations: insightRecommendations(scores, total),
	}
	// no colour was tallied: there is no dominant energy to describe
	if scores[0].Count == 0 {
		return profile
	}

	dominant, secondary := scores[0], scores[1]
	traits := colorTraits[dominant.Color]
	profile.DominantColor = dominant
	profile.SecondaryColor = secondary
	profile.Strengths = append([]string(nil), traits.Strengths...)
	profile.DevelopmentAreas = append([]string(nil), traits.DevelopmentAreas...)
	profile.WorkingStyle = traits.WorkingStyle
	profile.CommunicationStyle = traits.CommunicationStyle
	return profile
}

// matchOption finds the chosen option by label, falling back to its text.
// Both comparisons ignore case and surrounding space.
func matchOption(options []OptionInput, selected string) *OptionInput {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return nil
	}
	for i := range options {
		if strings.EqualFold(strings.TrimSpace(options[i].Label), selected) {
			return &options[i]
		}
	}
	for i := range options {
		if strings.EqualFold(strings.TrimSpace(options[i].Text), selected) {
			return &options[i]
		}
	}
	return nil
}

func insightRecommendations(scores []ColorScore, total int) string {
	if total == 0 {
		return "No answers were recorded for this attempt, so no colour profile could be built. Complete the questionnaire to receive your profile."
	}
	if scores[0].Count == 0 {
		return "None of the recorded answers matched a colour energy, so no colour profile could be built. Retake the questionnaire to receive your profile."
	}
	dominant, secondary, weakest := scores[0], scores[1], scores[len(scores)-1]

	parts := []string{fmt.Sprintf("Your dominant colour energy is %s (%d%%), supported by %s (%d%%).",
		dominant.Name, dominant.Percentage, secondary.Name, secondary.Percentage)}

	if combo, ok := colorCombinations[[2]Color{dominant.Color, secondary.Color}]; ok {
		parts = append(parts, combo)
	}

	var bullets []string
	if dominant.Count*100 > 50*total {
		bullets = append(bullets, fmt.Sprintf("• Your %s preference is pronounced. Consciously adapt your approach when working with people who lead with other energies.", dominant.Name))
	}
	if weakest.Count*100 < 15*total {
		bullets = append(bullets, fmt.Sprintf("• %s is your least accessed energy (%d%%). Stretch into it: %s.",
			weakest.Name, weakest.Percentage, colorTraits[weakest.Color].FlexTip))
	}
	if len(bullets) > 0 {
		parts = append(parts, "Development suggestions:\n"+strings.Join(bullets, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
