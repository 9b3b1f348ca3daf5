// Package sentiment scores per-turn frustration from weighted Italian
// keywords and decides when a caller should be handed to a human.
package sentiment

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/pkg/logging"
)

var tracer = otel.Tracer("sara.internal.sentiment")

// DefaultWindow is the number of turns summed into the cumulative score.
const DefaultWindow = 5

// Reason explains an escalation.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonUserRequested         Reason = "user_requested"
	ReasonCriticalFrustration   Reason = "critical_frustration"
	ReasonCumulativeFrustration Reason = "cumulative_frustration"
	ReasonDisambiguationFailed  Reason = "disambiguation_failed"
	ReasonTriageEmergency       Reason = "triage_emergency"
	ReasonBridgeFailure         Reason = "bridge_failure"
)

// Frustration levels.
const (
	LevelNone = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

const (
	repetitionWeight = 2
	criticalRaw      = 8
	cumulativeLimit  = 6
)

// Analysis is the verdict for one turn.
type Analysis struct {
	RawScore        int
	Cumulative      int
	Level           int
	Sentiment       domain.Sentiment
	WantsEscalation bool
	ShouldEscalate  bool
	Reason          Reason
	Matched         []string
}

type weightedKeyword struct {
	phrase string
	weight int
}

// Longer phrases are listed with their own weight so "sempre sbagliato" is
// not also counted as "sbagliato".
var frustrationKeywords = []weightedKeyword{
	{"aspetta", 1}, {"aspetti", 1}, {"scusi ma", 1}, {"scusa ma", 1},
	{"ma dai", 1}, {"uffa", 1}, {"ancora una volta", 1}, {"veramente", 1},

	{"non capisco", 2}, {"non hai capito", 2}, {"non ha capito", 2},
	{"sbagliato", 2}, {"sbagliata", 2}, {"problema", 2}, {"errore", 2},
	{"non va bene", 2}, {"non e giusto", 2}, {"confusione", 2}, {"lentissimo", 2},

	{"sempre sbagliato", 3}, {"sempre sbagliata", 3}, {"non funziona", 3},
	{"non capisci niente", 3}, {"non capisce niente", 3}, {"inutile", 3},
	{"assurdo", 3}, {"ridicolo", 3}, {"pessimo", 3}, {"incompetente", 3},
	{"sono stufo", 3}, {"sono stufa", 3}, {"mi sta facendo perdere tempo", 3},

	{"operatore", 4}, {"basta", 4}, {"cazzo", 4}, {"merda", 4},
	{"vaffanculo", 4}, {"stronzo", 4}, {"stronzata", 4}, {"porca miseria", 4},
	{"che schifo", 4}, {"schifo", 4}, {"madonna", 4},
}

// Neutral idioms removed before scoring.
var neutralPhrases = []string{"basta cosi", "nessun problema", "non c'e problema", "non e un problema", "non si preoccupi"}

var repetitionRe = regexp.MustCompile(`\b(?:puo ripetere|puoi ripetere|ripeta|ripeti|come scusi|come ha detto|cosa ha detto|cosa hai detto|non ho sentito|non ho capito|non si sente)\b|^\s*come\s*[?!.]*\s*$|^\s*cosa\s*\?+\s*$`)

var positiveWords = map[string]struct{}{
	"grazie": {}, "perfetto": {}, "perfetta": {}, "ottimo": {}, "ottima": {},
	"benissimo": {}, "gentile": {}, "gentilissima": {}, "fantastico": {},
	"bene": {}, "piacere": {}, "contento": {}, "contenta": {}, "bravo": {},
	"brava": {}, "splendido": {}, "magnifico": {},
}

var negativeWords = map[string]struct{}{
	"male": {}, "brutto": {}, "peccato": {}, "purtroppo": {}, "arrabbiato": {},
	"arrabbiata": {}, "deluso": {}, "delusa": {}, "scontento": {}, "scontenta": {},
	"lamentela": {}, "terribile": {}, "peggio": {}, "odio": {},
}

// Analyzer scores turns. It holds no per-session state: the caller keeps the
// delta history (Session.Frustration) and passes it in.
type Analyzer struct {
	logger   *logging.Logger
	window   int
	keywords []weightedKeyword
}

// NewAnalyzer creates an analyzer summing over the last window turns.
func NewAnalyzer(logger *logging.Logger, window int) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	kw := make([]weightedKeyword, len(frustrationKeywords))
	copy(kw, frustrationKeywords)
	sort.SliceStable(kw, func(i, j int) bool { return len(kw[i].phrase) > len(kw[j].phrase) })
	return &Analyzer{logger: logger, window: window, keywords: kw}
}

// Window returns the configured sliding-window size.
func (a *Analyzer) Window() int { return a.window }

// Analyze scores text given the previous per-turn deltas of the session.
func (a *Analyzer) Analyze(ctx context.Context, text string, history []int) Analysis {
	_, span := tracer.Start(ctx, "sentiment.analyze")
	defer span.End()

	folded := italian.Fold(text)
	res := Analysis{Sentiment: domain.SentimentNeutral}

	res.RawScore, res.Matched = a.score(folded)
	if repetitionRe.MatchString(folded) {
		res.RawScore += repetitionWeight
		res.Matched = append(res.Matched, "repetition")
	}
	res.WantsEscalation = italian.IsEscalation(text)

	recent := Record(history, res.RawScore, a.window)
	for _, d := range recent {
		res.Cumulative += d
	}
	res.Level = LevelFor(res.Cumulative)
	res.Sentiment = polarity(folded, res.RawScore)

	switch {
	case res.WantsEscalation:
		res.Reason = ReasonUserRequested
	case res.RawScore >= criticalRaw:
		res.Reason = ReasonCriticalFrustration
	case res.Level >= LevelHigh && res.Cumulative >= cumulativeLimit:
		res.Reason = ReasonCumulativeFrustration
	}
	res.ShouldEscalate = res.Reason != ReasonNone

	span.SetAttributes(
		attribute.Int("sentiment.raw_score", res.RawScore),
		attribute.Int("sentiment.cumulative", res.Cumulative),
		attribute.Int("sentiment.level", res.Level),
		attribute.Bool("sentiment.escalate", res.ShouldEscalate),
	)
	if res.ShouldEscalate {
		a.logger.Info("escalation requested by sentiment",
			"reason", res.Reason,
			"raw_score", res.RawScore,
			"cumulative", res.Cumulative,
		)
	}
	return res
}

func (a *Analyzer) score(folded string) (int, []string) {
	padded := " " + italian.NormalizePhrase(folded) + " "
	for _, n := range neutralPhrases {
		padded = strings.ReplaceAll(padded, " "+n+" ", "  ")
	}
	total := 0
	var matched []string
	for _, kw := range a.keywords {
		needle := " " + kw.phrase + " "
		for strings.Contains(padded, needle) {
			total += kw.weight
			matched = append(matched, kw.phrase)
			padded = strings.Replace(padded, needle, "  ", 1)
		}
	}
	return total, matched
}

func polarity(folded string, raw int) domain.Sentiment {
	if raw >= 2 {
		return domain.SentimentNegative
	}
	pos, neg := 0, 0
	for _, w := range italian.Tokens(folded) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return domain.SentimentPositive
	case neg > pos:
		return domain.SentimentNegative
	}
	return domain.SentimentNeutral
}

// Record appends delta to history and keeps the last window entries.
func Record(history []int, delta, window int) []int {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]int, 0, window)
	start := len(history) - (window - 1)
	if start < 0 {
		start = 0
	}
	out = append(out, history[start:]...)
	return append(out, delta)
}

// LevelFor maps a cumulative score to a 0..4 frustration level.
func LevelFor(cumulative int) int {
	switch {
	case cumulative < 1:
		return LevelNone
	case cumulative == 1:
		return LevelLow
	case cumulative <= 4:
		return LevelMedium
	case cumulative <= 7:
		return LevelHigh
	}
	return LevelCritical
}
