package memory

import (
	"strings"
	"sync"
)

// PatternCategory is the closed enum of cross-project pattern categories.
type PatternCategory string

const (
	PatternArchitecture   PatternCategory = "architecture"
	PatternCodeStructure  PatternCategory = "code-structure"
	PatternErrorHandling  PatternCategory = "error-handling"
	PatternTesting        PatternCategory = "testing"
	PatternSecurity       PatternCategory = "security"
	PatternPerformance    PatternCategory = "performance"
	PatternDeployment     PatternCategory = "deployment"
	PatternWorkflow       PatternCategory = "workflow"
)

// Pattern is a transferable cross-project lesson, with a running-mean
// quality field alongside its success/failure counters.
type Pattern struct {
	ID              string
	Category        PatternCategory
	Name            string
	Problem         string
	Solution        string
	Implementation  string
	Languages       []string
	Frameworks      []string
	ProjectTypes    []string
	SourceProjectID string

	Successes   int
	Failures    int
	qualitySum  float64
	qualityN    int
}

// SuccessRate computes successes / (successes+failures), or 0.5 when there
// are no recorded outcomes.
func (p *Pattern) SuccessRate() float64 {
	denom := p.Successes + p.Failures
	if denom == 0 {
		return 0.5
	}
	return float64(p.Successes) / float64(denom)
}

// MeanQuality returns the running mean of recorded quality scores, 0 if
// none recorded.
func (p *Pattern) MeanQuality() float64 {
	if p.qualityN == 0 {
		return 0
	}
	return p.qualitySum / float64(p.qualityN)
}

// TaskQuery is the minimal task shape findSimilarPatterns scores against,
// decoupled from internal/taskgraph.Task to keep this package leaf-level.
type TaskQuery struct {
	Description string
	Language    string
	Framework   string
	ProjectType string
}

// PatternRegistry holds registered patterns and scores them against a
// task query.
type PatternRegistry struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

func NewPatternRegistry() *PatternRegistry {
	return &PatternRegistry{patterns: make(map[string]*Pattern)}
}

func (r *PatternRegistry) Register(p *Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[p.ID] = p
}

// MatchFilters narrows findSimilarPatterns candidates by category (empty
// matches every category) and sets the score cutoff (zero means 0.6).
// Language, framework and project type come from the TaskQuery and only
// add to the score; they do not filter.
type MatchFilters struct {
	Category   PatternCategory
	MinScore   float64 // default 0.6
}

func termOverlap(a, b string) float64 {
	return jaccardSimilarity(a, b)
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// FindSimilarPatterns scores every registered pattern against task and
// returns those at or above filters.MinScore (default 0.6), highest score
// first. Patterns under the cutoff are excluded from the result but never
// deleted; the registry has no operation that removes a pattern.
func (r *PatternRegistry) FindSimilarPatterns(task TaskQuery, filters MatchFilters) []*Pattern {
	minScore := filters.MinScore
	if minScore == 0 {
		minScore = 0.6
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scoredPattern struct {
		p     *Pattern
		score float64
	}
	var out []scoredPattern
	for _, p := range r.patterns {
		if filters.Category != "" && p.Category != filters.Category {
			continue
		}
		score := 0.3 * termOverlap(task.Description, p.Problem+" "+p.Solution)
		if contains(p.Languages, task.Language) {
			score += 0.25
		}
		if contains(p.Frameworks, task.Framework) {
			score += 0.25
		}
		if contains(p.ProjectTypes, task.ProjectType) {
			score += 0.2
		}
		score *= 0.5 + 0.5*p.SuccessRate()
		if score >= minScore {
			out = append(out, scoredPattern{p: p, score: score})
		}
	}

	result := make([]*Pattern, len(out))
	// simple insertion sort descending by score; pattern counts are small
	for i := range out {
		result[i] = out[i].p
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].score < out[j].score {
			out[j-1], out[j] = out[j], out[j-1]
			result[j-1], result[j] = result[j], result[j-1]
			j--
		}
	}
	return result
}

// RecordOutcome updates a pattern's success/failure counters and running
// mean quality.
func (r *PatternRegistry) RecordOutcome(patternID string, success bool, quality float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patterns[patternID]
	if !ok {
		return
	}
	if success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.qualitySum += quality
	p.qualityN++
}
