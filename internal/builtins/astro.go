// ABOUTME: Astro pack provides astro_timeline: zodiac sign and an uplifting timeline.
// ABOUTME: Requires the "astro" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/puch-mcp/internal/tools"
)

// AstroPack creates the astro pack with the timeline tool.
func AstroPack() *tools.Pack {
	return &tools.Pack{
		ID: "builtin:astro",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "astro_timeline",
					Description:          "Zodiac + uplifting timeline: enter your birthdate (YYYY-MM-DD) to get your sign, marriage age range, potential success ages, and a warm message from the stars",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"birthdate":{"type":"string","description":"Your birthdate, format YYYY-MM-DD, e.g. 2002-08-09"}},"required":["birthdate"]}`),
					RequiredCapabilities: []string{"astro"},
				},
				Handler: astroTimeline,
			},
		},
	}
}

func astroTimeline(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in struct {
		Birthdate string `json:"birthdate"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}

	// A malformed date gets a friendly prompt, not an error
	dt, err := time.Parse("2006-01-02", strings.TrimSpace(in.Birthdate))
	if err != nil {
		return tools.TextResult("Please enter your birthdate in YYYY-MM-DD format (e.g. 2002-08-09)."), nil
	}

	sign := zodiacSign(int(dt.Month()), dt.Day())
	return tools.Textf("You are a *%s*.\n\n🔮 *Likely marriage (under 35):* %s.\n🚀 *Potential success ages (under 40):* %s.\n\n%s",
		sign, marriageRanges[sign], successAges[sign], signTraits[sign]), nil
}

// zodiacSign maps a month and day to the western zodiac sign.
func zodiacSign(m, d int) string {
	switch {
	case (m == 3 && d >= 21) || (m == 4 && d <= 19):
		return "Aries"
	case (m == 4 && d >= 20) || (m == 5 && d <= 20):
		return "Taurus"
	case (m == 5 && d >= 21) || (m == 6 && d <= 20):
		return "Gemini"
	case (m == 6 && d >= 21) || (m == 7 && d <= 22):
		return "Cancer"
	case (m == 7 && d >= 23) || (m == 8 && d <= 22):
		return "Leo"
	case (m == 8 && d >= 23) || (m == 9 && d <= 22):
		return "Virgo"
	case (m == 9 && d >= 23) || (m == 10 && d <= 22):
		return "Libra"
	case (m == 10 && d >= 23) || (m == 11 && d <= 21):
		return "Scorpio"
	case (m == 11 && d >= 22) || (m == 12 && d <= 21):
		return "Sagittarius"
	case (m == 12 && d >= 22) || (m == 1 && d <= 19):
		return "Capricorn"
	case (m == 1 && d >= 20) || (m == 2 && d <= 18):
		return "Aquarius"
	default:
		return "Pisces"
	}
}

var marriageRanges = map[string]string{
	"Aries": "25–30", "Taurus": "22–28", "Gemini": "24–29", "Cancer": "24–30",
	"Leo": "26–32", "Virgo": "28–35", "Libra": "24–30", "Scorpio": "27–35",
	"Sagittarius": "25–33", "Capricorn": "28–35", "Aquarius": "26–34", "Pisces": "24–30",
}

var successAges = map[string]string{
	"Aries": "23, 30, 38", "Taurus": "28, 35, 40", "Gemini": "22, 29, 36", "Cancer": "27, 34, 40",
	"Leo": "20, 28, 35", "Virgo": "19, 27, 35", "Libra": "26, 33, 40", "Scorpio": "25, 33, 40",
	"Sagittarius": "24, 30, 38", "Capricorn": "30, 38", "Aquarius": "27, 35, 40", "Pisces": "23, 31, 39",
}

var signTraits = map[string]string{
	"Aries":       "You’ve moved forward with bold intention, even on harder days.\nThat spark inside you gently grows—it’s building toward something bright.\nTrust your momentum—it’s your journey unfolding toward light and smile.",
	"Taurus":      "You’ve patient-crafted beauty and strength from quiet persistence.\nSoon, that grounded growth lifts you—solid, seen, deeply rooted.\nTrust the peace within—it’s blossoming into calm joy.",
	"Gemini":      "Your curiosity has sparked many ideas, even when clarity felt distant.\nSoon, those inspired thoughts will coalesce into purpose and warmth.\nLet wonder guide you—it’s weaving meaning and smiles.",
	"Cancer":      "Your care has comforted quietly, from the heart toward others.\nSoon, that kindness returns as gentle light surrounding you.\nYou’re seen, you’re felt, and your warmth invites a soft smile.",
	"Leo":         "You’ve glowed in little ways—as creativity, as kindness, as courage.\nSoon that inner light shines outward—noticed, appreciated, radiant.\nLet yourself be seen—you’re radiance is meant to spread joy.",
	"Virgo":       "You have been refining, shaping, and caring in the small thankless ways.\nSoon, that thoughtful precision becomes recognition and gentle pride.\nYour quiet mastery blooms—softly, powerfully, into success.",
	"Libra":       "You’ve balanced and soothed, harmonizing worlds with your grace.\nSoon, that harmony circles back to you—calm, mirrored, comforting.\nYou’re bridge, you’re calm, and your presence brings smiles.",
	"Scorpio":     "You’ve navigated depths with courage—braving truth and feeling.\nSoon, that clarity becomes your strength, steady and sure.\nYour depth is power—and it’s lighting your path forward.",
	"Sagittarius": "Your spirit has wandered far—through dreams, ideas, distant places.\nSoon, that wanderlust turns into direction and laughter.\nYour journey unfolds with purpose—and joy is waiting there.",
	"Capricorn":   "You’ve climbed with steady steps toward a future only you see.\nSoon, your work becomes visible, honored, and quietly celebrated.\nYou’ve shaped success from effort—it’s emerging, and it feels warm.",
	"Aquarius":    "You’ve dreamed beyond now—ideas sparkling with possibility.\nSoon, those ideas find audience, connection, and movement.\nYour vision matters—it’s gently ushering change and smiles.",
	"Pisces":      "You feel deeply, dreaming from the heart into the world.\nSoon, that empathy guides you to beauty made real, tender, true.\nYour intuition is compass—and it’s pointing toward gentle joy.",
}
