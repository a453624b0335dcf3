package ws

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"trade-enginev1/internal/markethours"
)

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestDecodeTick_EpochMillis(t *testing.T) {
	at := time.Date(2026, time.August, 18, 5, 45, 0, 0, time.UTC)
	payload := []byte(`{"Token":49812,"LastRate":101.5,"OpenRate":100,"High":102,"Low":99.5,` +
		`"TotalQuantity":123456,"Exch":"N","ExchType":"C","tickDt":` + millis(at) + `}`)

	tick, err := decodeTick(payload, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if tick.ScripCode != "49812" {
		t.Errorf("scrip = %q, want token rendered as %q", tick.ScripCode, "49812")
	}
	if tick.Exchange != "N" || tick.ExchangeType != "C" {
		t.Errorf("exchange = %s/%s, want N/C", tick.Exchange, tick.ExchangeType)
	}
	if tick.LastPrice != 101.5 || tick.Open != 100 || tick.High != 102 || tick.Low != 99.5 {
		t.Errorf("prices = %v/%v/%v/%v", tick.LastPrice, tick.Open, tick.High, tick.Low)
	}
	if tick.CumVolume != 123456 {
		t.Errorf("cum volume = %d, want 123456", tick.CumVolume)
	}
	if !tick.EventTS.Equal(at) {
		t.Errorf("event ts = %v, want %v", tick.EventTS, at)
	}
	// 05:45 UTC is 11:15 on the IST wall clock.
	if tick.EventTS.Hour() != 11 || tick.EventTS.Minute() != 15 {
		t.Errorf("IST wall clock = %02d:%02d, want 11:15", tick.EventTS.Hour(), tick.EventTS.Minute())
	}
}

func TestDecodeTick_ISOTimeField(t *testing.T) {
	payload := []byte(`{"Token":2885,"LastRate":2450.25,"Exch":"N","ExchType":"D",` +
		`"time":"2026-08-18T05:45:00Z"}`)

	tick, err := decodeTick(payload, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, time.August, 18, 11, 15, 0, 0, markethours.IST)
	if !tick.EventTS.Equal(want) {
		t.Errorf("event ts = %v, want %v IST", tick.EventTS, want)
	}
	if tick.ScripCode != "2885" || tick.ExchangeType != "D" {
		t.Errorf("decoded %s/%s, want 2885/D", tick.ScripCode, tick.ExchangeType)
	}
}

func TestDecodeTick_QuotedMillis(t *testing.T) {
	at := time.Date(2026, time.August, 18, 9, 30, 0, 0, markethours.IST)
	payload := []byte(`{"Token":49812,"LastRate":99.9,"Exch":"N","ExchType":"C",` +
		`"tickDt":"` + millis(at) + `"}`)

	tick, err := decodeTick(payload, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !tick.EventTS.Equal(at) {
		t.Errorf("event ts = %v, want %v", tick.EventTS, at)
	}
}

func TestDecodeTick_MissingTimestampUsesReceiveTime(t *testing.T) {
	received := time.Date(2026, time.August, 18, 11, 0, 0, 0, markethours.IST)
	payload := []byte(`{"Token":49812,"LastRate":100.5,"Exch":"N","ExchType":"C"}`)

	tick, err := decodeTick(payload, received)
	if err != nil {
		t.Fatal(err)
	}
	if !tick.EventTS.Equal(received) {
		t.Errorf("event ts = %v, want receive time %v", tick.EventTS, received)
	}
}

func TestDecodeTick_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"missing token", `{"LastRate":100.5,"Exch":"N"}`},
		{"zero price", `{"Token":49812,"LastRate":0,"Exch":"N"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeTick([]byte(tc.payload), time.Now())
			if !errors.Is(err, errBadTick) {
				t.Errorf("err = %v, want errBadTick", err)
			}
		})
	}
}
