package exchange

import (
	"testing"

	"github.com/surveil/smartmoney/internal/models"
)

func TestParseTradeEvent_DecodesDecimalFields(t *testing.T) {
	ev, ok := parseTradeEvent(rawTradeEvent{
		EventType: "last_trade_price",
		AssetID:   "tok1",
		Market:    "m1",
		Price:     "0.37",
		Size:      "120.5",
		Side:      "SELL",
		Timestamp: "1700000000000",
	})
	if !ok {
		t.Fatal("expected successful parse")
	}
	if ev.Price != 0.37 || ev.Size != 120.5 || ev.Side != models.SideSell {
		t.Errorf("unexpected parsed event: %+v", ev)
	}
}

func TestParseTradeEvent_PassesThroughMakerTakerWhenPresent(t *testing.T) {
	ev, ok := parseTradeEvent(rawTradeEvent{
		Price: "0.5", Size: "10", Timestamp: "1700000000000",
		MakerAddr: "0xmaker", TakerAddr: "0xtaker",
	})
	if !ok {
		t.Fatal("expected successful parse")
	}
	if ev.MakerAddr != "0xmaker" || ev.TakerAddr != "0xtaker" {
		t.Errorf("expected maker/taker passthrough, got %+v", ev)
	}
}

func TestParseTradeEvent_MakerTakerEmptyWhenAbsent(t *testing.T) {
	ev, ok := parseTradeEvent(rawTradeEvent{Price: "0.5", Size: "10", Timestamp: "1700000000000"})
	if !ok {
		t.Fatal("expected successful parse")
	}
	if ev.MakerAddr != "" || ev.TakerAddr != "" {
		t.Errorf("expected empty maker/taker when absent from the wire message, got %+v", ev)
	}
}

func TestParseTradeEvent_DefaultsMissingSideToBuy(t *testing.T) {
	ev, ok := parseTradeEvent(rawTradeEvent{
		Price: "0.5", Size: "10", Timestamp: "1700000000000",
	})
	if !ok || ev.Side != models.SideBuy {
		t.Errorf("expected missing side to default to BUY, got %+v ok=%v", ev, ok)
	}
}

func TestParseTradeEvent_RejectsMalformedDecimal(t *testing.T) {
	_, ok := parseTradeEvent(rawTradeEvent{Price: "not-a-number", Size: "10", Timestamp: "1"})
	if ok {
		t.Error("expected parse failure on malformed price")
	}
}

func TestParseTimestampMs_DisambiguatesSecondsFromMillis(t *testing.T) {
	msVal, err := parseTimestampMs("1700000000000")
	if err != nil || msVal != 1700000000000 {
		t.Errorf("expected ms passthrough, got %d err=%v", msVal, err)
	}
	secVal, err := parseTimestampMs("1700000000")
	if err != nil || secVal != 1700000000000 {
		t.Errorf("expected seconds converted to ms, got %d err=%v", secVal, err)
	}
}
