package protocol

import "testing"

func TestContextMatcher_NilMatchesUniversally(t *testing.T) {
	var m *ContextMatcher
	if !m.Matches(MatcherInput{WorkerID: "w1"}) {
		t.Fatal("nil matcher should apply universally")
	}
}

func TestContextMatcher_EmptyMatchesUniversally(t *testing.T) {
	m := &ContextMatcher{}
	if !m.Matches(MatcherInput{WorkerID: "w1", Environment: "prod"}) {
		t.Fatal("matcher with no axes set should apply universally")
	}
}

func TestContextMatcher_ExcludeWins(t *testing.T) {
	m := &ContextMatcher{
		Environment: &PatternList{Exclude: []string{"^prod$"}},
	}
	if m.Matches(MatcherInput{Environment: "prod"}) {
		t.Fatal("excluded environment should not match")
	}
	if !m.Matches(MatcherInput{Environment: "staging"}) {
		t.Fatal("non-excluded environment should match")
	}
}

func TestContextMatcher_PositiveListRequiresMatch(t *testing.T) {
	m := &ContextMatcher{
		WorkerID: &PatternList{Include: []string{"^alice$"}},
	}
	if m.Matches(MatcherInput{WorkerID: "bob"}) {
		t.Fatal("worker not in positive list should not match")
	}
	if !m.Matches(MatcherInput{WorkerID: "alice"}) {
		t.Fatal("worker in positive list should match")
	}
}

func TestContextMatcher_PositiveListAcrossAxesIsUnion(t *testing.T) {
	// A positive match on any one axis is enough, even if other axes with
	// positive lists don't match on this particular input field -- as long
	// as at least one positive match exists anywhere.
	m := &ContextMatcher{
		WorkerID:   &PatternList{Include: []string{"^alice$"}},
		FeatureID:  &PatternList{Include: []string{"^feat-1$"}},
	}
	if !m.Matches(MatcherInput{WorkerID: "alice", FeatureID: "feat-9"}) {
		t.Fatal("a single positive match across axes should be sufficient")
	}
	if m.Matches(MatcherInput{WorkerID: "bob", FeatureID: "feat-9"}) {
		t.Fatal("no positive match anywhere should fail")
	}
}

func TestContextMatcher_ExcludeBeatsInclude(t *testing.T) {
	m := &ContextMatcher{
		Branch: &PatternList{Include: []string{".*"}, Exclude: []string{"^main$"}},
	}
	if m.Matches(MatcherInput{Branch: "main"}) {
		t.Fatal("exclude match should block even when include also matches")
	}
	if !m.Matches(MatcherInput{Branch: "feature/x"}) {
		t.Fatal("non-excluded branch matching include should pass")
	}
}

func TestContextMatcher_TargetFilesMultiValueAxis(t *testing.T) {
	m := &ContextMatcher{
		TargetFiles: &PatternList{Include: []string{`\.go$`}},
	}
	in := MatcherInput{TargetFiles: []string{"README.md", "main.go"}}
	if !m.Matches(in) {
		t.Fatal("at least one target file matching include should pass")
	}
	in2 := MatcherInput{TargetFiles: []string{"README.md", "notes.txt"}}
	if m.Matches(in2) {
		t.Fatal("no target file matching include should fail")
	}
}
