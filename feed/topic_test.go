package feed

import "testing"

func TestTopicFormat(t *testing.T) {
	got := Topic("nse", "reliance", ModeQuote)
	if got != "NSE_RELIANCE_QUOTE" {
		t.Fatalf("unexpected topic: %s", got)
	}
}

func TestParseTopicRoundTrip(t *testing.T) {
	cases := []struct {
		exchange, symbol string
		mode             Mode
	}{
		{"NSE", "RELIANCE", ModeLTP},
		{"NSE_INDEX", "NIFTY", ModeDepth},
		{"MCX", "CRUDEOIL24FEB", ModeQuote},
		{"NFO", "NIFTY24FEB22000CE", ModeDepth},
	}
	for _, c := range cases {
		ex, sym, mode, err := ParseTopic(Topic(c.exchange, c.symbol, c.mode))
		if err != nil {
			t.Fatalf("parse %v: %v", c, err)
		}
		if ex != c.exchange || sym != c.symbol || mode != c.mode {
			t.Fatalf("round trip mismatch: got (%s,%s,%s) want %v", ex, sym, mode, c)
		}
	}
}

func TestParseTopicLegacyBrokerPrefix(t *testing.T) {
	ex, sym, mode, err := ParseTopic("KITE_NSE_RELIANCE_QUOTE")
	if err != nil {
		t.Fatal(err)
	}
	if ex != "NSE" || sym != "RELIANCE" || mode != ModeQuote {
		t.Fatalf("legacy form mismatch: %s %s %s", ex, sym, mode)
	}

	ex, sym, mode, err = ParseTopic("ANGEL_NSE_INDEX_NIFTY_LTP")
	if err != nil {
		t.Fatal(err)
	}
	if ex != "NSE_INDEX" || sym != "NIFTY" || mode != ModeLTP {
		t.Fatalf("legacy compound exchange mismatch: %s %s %s", ex, sym, mode)
	}
}

func TestParseTopicMalformed(t *testing.T) {
	if _, _, _, err := ParseTopic("NSE_RELIANCE"); err == nil {
		t.Fatal("expected error for missing mode")
	}
	if _, _, _, err := ParseTopic("NSE_RELIANCE_FULL"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestParseModeAndMax(t *testing.T) {
	m, err := ParseMode(" quote ")
	if err != nil || m != ModeQuote {
		t.Fatalf("ParseMode: %v %v", m, err)
	}
	if _, err := ParseMode("ohlc"); err == nil {
		t.Fatal("expected invalid mode error")
	}
	if MaxMode(ModeLTP, ModeDepth) != ModeDepth {
		t.Fatal("MaxMode wrong")
	}
}
