package data

import "testing"

func TestDecodeEventTrade(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":55,"p":"100.5","q":"0.25","b":1,"a_order_id":2,"m":false}}`)

	event, ok := decodeEvent(raw)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if event.Trade == nil {
		t.Fatal("expected a trade event")
	}
	if event.Trade.Symbol != "BTCUSDT" || event.Trade.TradeID != 55 || event.Trade.PriceStr != "100.5" {
		t.Errorf("unexpected decoded trade: %+v", event.Trade)
	}
}

func TestDecodeEventAggTrade(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1700000000000,"s":"BTCUSDT","a":99,"p":"200","q":"1.5","f":10,"l":12,"m":true}}`)

	event, ok := decodeEvent(raw)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if event.AggTrade == nil || event.AggTrade.AggTradeID != 99 {
		t.Errorf("unexpected decoded agg trade: %+v", event.AggTrade)
	}
}

func TestDecodeEventDepthUpdate(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth10@100ms","data":{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":5}}`)

	event, ok := decodeEvent(raw)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if event.Depth == nil || event.Depth.FirstUpdateID != 1 || event.Depth.FinalUpdateID != 5 {
		t.Errorf("unexpected decoded depth update: %+v", event.Depth)
	}
}

func TestDecodeEventUnknownTypeRejected(t *testing.T) {
	raw := []byte(`{"stream":"x","data":{"e":"kline"}}`)
	_, ok := decodeEvent(raw)
	if ok {
		t.Error("expected unknown event type to be rejected")
	}
}

func TestDecodeEventMalformedJSONRejected(t *testing.T) {
	_, ok := decodeEvent([]byte(`not json`))
	if ok {
		t.Error("expected malformed payload to be rejected")
	}
}
