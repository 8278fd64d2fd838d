package llm

import "testing"

func TestParsePairEvaluation_PlainJSON(t *testing.T) {
	eval, err := ParsePairEvaluation(`{"isSameEvent":false,"areMutuallyExclusive":false,"relationshipType":"SAME_OUTCOME","confidenceScore":0.8,"tradingRationale":"same policy path","expectedEdge":0.05}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.RelationshipType != "SAME_OUTCOME" || eval.ConfidenceScore != 0.8 {
		t.Errorf("unexpected parsed evaluation: %+v", eval)
	}
}

func TestParsePairEvaluation_StripsCodeFence(t *testing.T) {
	eval, err := ParsePairEvaluation("```json\n{\"isSameEvent\":true,\"areMutuallyExclusive\":true,\"relationshipType\":\"SAME_EVENT_REJECT\",\"confidenceScore\":0.95,\"tradingRationale\":\"duplicate\",\"expectedEdge\":0}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.RelationshipType != "SAME_EVENT_REJECT" {
		t.Errorf("expected fenced JSON to parse, got %+v", eval)
	}
}

func TestParsePairEvaluation_MalformedJSONReturnsError(t *testing.T) {
	_, err := ParsePairEvaluation("not json at all")
	if err == nil {
		t.Error("expected an error for unparseable reply")
	}
}

func TestParseClusterLabel_ValidLabel(t *testing.T) {
	if got := ParseClusterLabel(`{"label":"Finance"}`); got != LabelFinance {
		t.Errorf("expected case-insensitive match to finance, got %s", got)
	}
}

func TestParseClusterLabel_UnknownLabelDefaultsToOther(t *testing.T) {
	if got := ParseClusterLabel(`{"label":"astrology"}`); got != LabelOther {
		t.Errorf("expected unknown taxonomy entry to default to other, got %s", got)
	}
}

func TestParseClusterLabel_MalformedReplyDefaultsToOther(t *testing.T) {
	if got := ParseClusterLabel("garbage"); got != LabelOther {
		t.Errorf("expected malformed reply to default to other, got %s", got)
	}
}
