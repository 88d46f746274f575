package domain

import "strings"

// Intent classifies a query into one of three buckets that drive the
// relevance/diversity trade-off.
type Intent int

const (
	// IntentSpecific: the user wants precise results (how-to, definition,
	// location, time queries). Relevance is prioritized.
	IntentSpecific Intent = 0
	// IntentExploratory: the user wants breadth (recommendations, options,
	// trends). Diversity is prioritized.
	IntentExploratory Intent = 1
	// IntentBalanced: default mixed intent.
	IntentBalanced Intent = 2
	// IntentUnknown means intent detection has not run yet for the query.
	IntentUnknown Intent = -1
)

func (i Intent) String() string {
	switch i {
	case IntentSpecific:
		return "specific"
	case IntentExploratory:
		return "exploratory"
	case IntentBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// IntentDetector maps a query to an intent bucket and a lambda value.
// The rule-based implementation below is the current classifier; a learned
// regressor predicting lambda directly can replace it without touching the
// diversity reranker.
type IntentDetector interface {
	Detect(query string) (Intent, float64)
}

// Lambda values per intent bucket. Lambda 1.0 means pure relevance,
// 0.0 means pure diversity.
const (
	LambdaSpecific    = 0.8
	LambdaExploratory = 0.5
	LambdaBalanced    = 0.7
)

// specificIndicators mark queries that want precise answers.
// English and CJK phrasings are both covered.
var specificIndicators = []string{
	"how to", "如何", "怎麼", "怎么",
	"what is", "什麼是", "什么是",
	"where", "哪裡", "哪里",
	"when", "什麼時候", "什么时候",
}

// exploratoryIndicators mark queries seeking breadth or recommendations.
var exploratoryIndicators = []string{
	"best", "最好", "推薦", "推荐",
	"ideas", "點子", "想法",
	"options", "選項", "选项",
	"alternatives", "替代", "其他",
	"trends", "趨勢", "趋势",
	"popular", "熱門", "热门",
	"methods", "ways", "方法", "方式",
}

// RuleBasedIntentDetector counts lexical indicators in the query and picks
// the bucket with more hits. Ties fall back to balanced.
type RuleBasedIntentDetector struct {
	// DefaultLambda is returned for balanced queries. Zero means use
	// LambdaBalanced.
	DefaultLambda float64
}

// NewRuleBasedIntentDetector creates a detector with the given balanced-bucket
// lambda override. Pass 0 to use the default.
func NewRuleBasedIntentDetector(defaultLambda float64) *RuleBasedIntentDetector {
	return &RuleBasedIntentDetector{DefaultLambda: defaultLambda}
}

func (d *RuleBasedIntentDetector) Detect(query string) (Intent, float64) {
	balancedLambda := d.DefaultLambda
	if balancedLambda <= 0 || balancedLambda > 1 {
		balancedLambda = LambdaBalanced
	}

	if query == "" {
		return IntentBalanced, balancedLambda
	}

	lower := strings.ToLower(query)

	specific := 0
	for _, ind := range specificIndicators {
		if strings.Contains(lower, ind) {
			specific++
		}
	}
	exploratory := 0
	for _, ind := range exploratoryIndicators {
		if strings.Contains(lower, ind) {
			exploratory++
		}
	}

	switch {
	case specific > exploratory:
		return IntentSpecific, LambdaSpecific
	case exploratory > specific:
		return IntentExploratory, LambdaExploratory
	default:
		return IntentBalanced, balancedLambda
	}
}
