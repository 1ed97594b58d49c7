package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

// Bar hash fields.
const (
	FieldInstrumentID = "instrument_id"
	FieldExchange     = "exchange"
	FieldTimeframe    = "timeframe"
	FieldTsNs         = "ts_ns"
	FieldOpen         = "open"
	FieldHigh         = "high"
	FieldLow          = "low"
	FieldClose        = "close"
	FieldVolume       = "volume"
	FieldTurnover     = "turnover"
	FieldOpenInterest = "open_interest"
)

// Intent hash fields.
const (
	FieldCount        = "count"
	intentFieldPrefix = "intent_"
	intentFieldCount  = 7
)

// Order hash fields.
const (
	FieldAccountID     = "account_id"
	FieldClientOrderID = "client_order_id"
	FieldStatus        = "status"
	FieldTotalVolume   = "total_volume"
	FieldFilledVolume  = "filled_volume"
	FieldAvgPrice      = "avg_price"
	FieldReason        = "reason"
	FieldExchangeTsNs  = "exchange_ts_ns"
	FieldRecvTsNs      = "recv_ts_ns"
	FieldEventTsNs     = "event_ts_ns"
	FieldTraceID       = "trace_id"
	FieldAlgoID        = "algo_id"
	FieldSliceIndex    = "slice_index"
	FieldSliceTotal    = "slice_total"
	FieldThrottled     = "throttled"
)

const (
	recordBar    = "bar"
	recordState  = "state"
	recordIntent = "intent"
	recordOrder  = "order"
)

// IntentField returns the hash field name of the i-th intent.
func IntentField(i int) string {
	return intentFieldPrefix + strconv.Itoa(i)
}

// -----------------------------------------------------------------------------
// Bars
// -----------------------------------------------------------------------------

// DecodeBar decodes a bar hash. Every field is required.
func DecodeBar(fields map[string]string) (model.Bar, error) {
	if len(fields) == 0 {
		return model.Bar{}, &DecodeError{Record: recordBar, Err: ErrEmptyRecord}
	}
	d := decoder{record: recordBar, fields: fields}

	bar := model.Bar{
		InstrumentID: d.str(FieldInstrumentID),
		Exchange:     d.str(FieldExchange),
		Timeframe:    d.str(FieldTimeframe),
		TsNs:         d.integer(FieldTsNs),
		Open:         d.decimal(FieldOpen),
		High:         d.decimal(FieldHigh),
		Low:          d.decimal(FieldLow),
		Close:        d.decimal(FieldClose),
		Volume:       d.integer(FieldVolume),
		Turnover:     d.decimal(FieldTurnover),
		OpenInterest: d.float(FieldOpenInterest),
	}
	if d.err != nil {
		return model.Bar{}, d.err
	}
	if bar.InstrumentID == "" {
		return model.Bar{}, badValue(recordBar, FieldInstrumentID, errors.New("empty"))
	}
	return bar, nil
}

// EncodeBar is the inverse of DecodeBar. The engine writes bars; this is used
// by tooling and tests.
func EncodeBar(bar model.Bar) map[string]string {
	return map[string]string{
		FieldInstrumentID: bar.InstrumentID,
		FieldExchange:     bar.Exchange,
		FieldTimeframe:    bar.Timeframe,
		FieldTsNs:         strconv.FormatInt(bar.TsNs, 10),
		FieldOpen:         bar.Open.String(),
		FieldHigh:         bar.High.String(),
		FieldLow:          bar.Low.String(),
		FieldClose:        bar.Close.String(),
		FieldVolume:       strconv.FormatInt(bar.Volume, 10),
		FieldTurnover:     bar.Turnover.String(),
		FieldOpenInterest: formatFloat(bar.OpenInterest),
	}
}

// -----------------------------------------------------------------------------
// State snapshots
// -----------------------------------------------------------------------------

// DecodeState decodes a state hash. Each factor field is "score|confidence".
func DecodeState(instrumentID string, fields map[string]string) (model.StateSnapshot, error) {
	if len(fields) == 0 {
		return model.StateSnapshot{}, &DecodeError{Record: recordState, Err: ErrEmptyRecord}
	}
	d := decoder{record: recordState, fields: fields}

	snap := model.StateSnapshot{InstrumentID: instrumentID}
	for _, name := range model.FactorNames {
		raw, ok := d.required(name)
		if !ok {
			break
		}
		f, err := parseFactor(raw)
		if err != nil {
			d.err = badValue(recordState, name, err)
			break
		}
		snap.SetFactor(name, f)
	}
	snap.TsNs = d.integer(FieldTsNs)
	if d.err != nil {
		return model.StateSnapshot{}, d.err
	}
	return snap, nil
}

// EncodeState is the inverse of DecodeState.
func EncodeState(snap model.StateSnapshot) map[string]string {
	fields := make(map[string]string, len(model.FactorNames)+1)
	for _, name := range model.FactorNames {
		f, _ := snap.Factor(name)
		fields[name] = formatFloat(f.Score) + "|" + formatFloat(f.Confidence)
	}
	fields[FieldTsNs] = strconv.FormatInt(snap.TsNs, 10)
	return fields
}

func parseFactor(raw string) (model.FactorScore, error) {
	score, conf, ok := strings.Cut(raw, "|")
	if !ok {
		return model.FactorScore{}, fmt.Errorf("want score|confidence, got %q", raw)
	}
	s, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
	if err != nil {
		return model.FactorScore{}, err
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
	if err != nil {
		return model.FactorScore{}, err
	}
	if c < 0 || c > 1 || math.IsNaN(c) {
		return model.FactorScore{}, fmt.Errorf("confidence %v outside [0,1]", c)
	}
	return model.FactorScore{Score: s, Confidence: c}, nil
}

// -----------------------------------------------------------------------------
// Intents
// -----------------------------------------------------------------------------

// EncodeIntents renders intents as the full contents of an intent hash. The
// same input always yields the same map, so a rewrite of unchanged intents is
// a no-op for readers.
func EncodeIntents(intents []model.SignalIntent) (map[string]string, error) {
	fields := make(map[string]string, len(intents)+1)
	fields[FieldCount] = strconv.Itoa(len(intents))
	for i, intent := range intents {
		if err := intent.Validate(); err != nil {
			return nil, fmt.Errorf("intent %d: %w", i, err)
		}
		fields[IntentField(i)] = EncodeIntent(intent)
	}
	return fields, nil
}

// EncodeIntent renders one pipe-delimited intent record.
func EncodeIntent(intent model.SignalIntent) string {
	return strings.Join([]string{
		intent.InstrumentID,
		intent.Side.String(),
		intent.Offset.String(),
		strconv.FormatInt(intent.Volume, 10),
		intent.LimitPrice.String(),
		strconv.FormatInt(intent.TsNs, 10),
		intent.TraceID,
	}, "|")
}

// DecodeIntents reads an intent hash back. count and every intent_{i} below it
// are required.
func DecodeIntents(strategyID string, fields map[string]string) ([]model.SignalIntent, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	d := decoder{record: recordIntent, fields: fields}
	count := d.integer(FieldCount)
	if d.err != nil {
		return nil, d.err
	}
	if count < 0 {
		return nil, badValue(recordIntent, FieldCount, fmt.Errorf("negative count %d", count))
	}

	intents := make([]model.SignalIntent, 0, count)
	for i := 0; i < int(count); i++ {
		name := IntentField(i)
		raw, ok := d.required(name)
		if !ok {
			return nil, d.err
		}
		intent, err := DecodeIntent(raw)
		if err != nil {
			return nil, badValue(recordIntent, name, err)
		}
		intent.StrategyID = strategyID
		intents = append(intents, intent)
	}
	return intents, nil
}

// DecodeIntent parses one pipe-delimited intent record.
func DecodeIntent(raw string) (model.SignalIntent, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != intentFieldCount {
		return model.SignalIntent{}, fmt.Errorf("want %d fields, got %d", intentFieldCount, len(parts))
	}

	side, err := model.ParseSide(parts[1])
	if err != nil {
		return model.SignalIntent{}, err
	}
	offset, err := model.ParseOffset(parts[2])
	if err != nil {
		return model.SignalIntent{}, err
	}
	volume, err := parseInteger(parts[3])
	if err != nil {
		return model.SignalIntent{}, fmt.Errorf("volume: %w", err)
	}
	price, err := decimal.NewFromString(parts[4])
	if err != nil {
		return model.SignalIntent{}, fmt.Errorf("limit_price: %w", err)
	}
	ts, err := parseInteger(parts[5])
	if err != nil {
		return model.SignalIntent{}, fmt.Errorf("ts_ns: %w", err)
	}

	intent := model.SignalIntent{
		InstrumentID: parts[0],
		Side:         side,
		Offset:       offset,
		Volume:       volume,
		LimitPrice:   price,
		TsNs:         ts,
		TraceID:      parts[6],
	}
	if err := intent.Validate(); err != nil {
		return model.SignalIntent{}, err
	}
	return intent, nil
}

// -----------------------------------------------------------------------------
// Order events
// -----------------------------------------------------------------------------

// EncodeOrderEvent renders an order event as an order hash. Algo fields are
// present only when the event carries algo metadata.
func EncodeOrderEvent(ev model.OrderEvent) map[string]string {
	fields := map[string]string{
		FieldAccountID:     ev.AccountID,
		FieldClientOrderID: ev.ClientOrderID,
		FieldInstrumentID:  ev.InstrumentID,
		FieldStatus:        ev.Status.String(),
		FieldTotalVolume:   strconv.FormatInt(ev.TotalVolume, 10),
		FieldFilledVolume:  strconv.FormatInt(ev.FilledVolume, 10),
		FieldAvgPrice:      ev.AvgPrice.String(),
		FieldReason:        ev.Reason,
		FieldExchangeTsNs:  strconv.FormatInt(ev.ExchangeTsNs, 10),
		FieldRecvTsNs:      strconv.FormatInt(ev.RecvTsNs, 10),
		FieldEventTsNs:     strconv.FormatInt(ev.EventTsNs, 10),
		FieldTraceID:       ev.TraceID,
	}
	if ev.Algo != nil {
		fields[FieldAlgoID] = ev.Algo.AlgoID
		fields[FieldSliceIndex] = strconv.Itoa(ev.Algo.SliceIndex)
		fields[FieldSliceTotal] = strconv.Itoa(ev.Algo.SliceTotal)
		fields[FieldThrottled] = strconv.FormatBool(ev.Algo.Throttled)
	}
	return fields
}

// DecodeOrderEvent reads an order hash. Identity, status and volumes are
// required; prices, reason and timestamps default to zero values.
func DecodeOrderEvent(fields map[string]string) (model.OrderEvent, error) {
	if len(fields) == 0 {
		return model.OrderEvent{}, &DecodeError{Record: recordOrder, Err: ErrEmptyRecord}
	}
	d := decoder{record: recordOrder, fields: fields}

	ev := model.OrderEvent{
		AccountID:     fields[FieldAccountID],
		ClientOrderID: d.str(FieldClientOrderID),
		InstrumentID:  d.str(FieldInstrumentID),
		TotalVolume:   d.integer(FieldTotalVolume),
		FilledVolume:  d.integer(FieldFilledVolume),
		TraceID:       d.str(FieldTraceID),
		Reason:        fields[FieldReason],
		AvgPrice:      d.optionalDecimal(FieldAvgPrice),
		ExchangeTsNs:  d.optionalInteger(FieldExchangeTsNs),
		RecvTsNs:      d.optionalInteger(FieldRecvTsNs),
		EventTsNs:     d.optionalInteger(FieldEventTsNs),
	}
	if raw, ok := d.required(FieldStatus); ok {
		status, err := model.ParseOrderStatus(raw)
		if err != nil {
			d.fail(badValue(recordOrder, FieldStatus, err))
		}
		ev.Status = status
	}
	if algoID, ok := fields[FieldAlgoID]; ok {
		ev.Algo = &model.AlgoMeta{
			AlgoID:     algoID,
			SliceIndex: int(d.optionalInteger(FieldSliceIndex)),
			SliceTotal: int(d.optionalInteger(FieldSliceTotal)),
		}
		if raw, ok := fields[FieldThrottled]; ok {
			throttled, err := strconv.ParseBool(raw)
			if err != nil {
				d.fail(badValue(recordOrder, FieldThrottled, err))
			}
			ev.Algo.Throttled = throttled
		}
	}
	if d.err != nil {
		return model.OrderEvent{}, d.err
	}
	return ev, nil
}

// -----------------------------------------------------------------------------
// Field helpers
// -----------------------------------------------------------------------------

// decoder records the first failure and turns later reads into no-ops.
type decoder struct {
	record string
	fields map[string]string
	err    error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) required(name string) (string, bool) {
	if d.err != nil {
		return "", false
	}
	v, ok := d.fields[name]
	if !ok {
		d.fail(missing(d.record, name))
		return "", false
	}
	return v, true
}

func (d *decoder) str(name string) string {
	v, _ := d.required(name)
	return v
}

func (d *decoder) integer(name string) int64 {
	raw, ok := d.required(name)
	if !ok {
		return 0
	}
	v, err := parseInteger(raw)
	if err != nil {
		d.fail(badValue(d.record, name, err))
	}
	return v
}

func (d *decoder) optionalInteger(name string) int64 {
	if _, ok := d.fields[name]; !ok || d.err != nil {
		return 0
	}
	return d.integer(name)
}

func (d *decoder) decimal(name string) decimal.Decimal {
	raw, ok := d.required(name)
	if !ok {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		d.fail(badValue(d.record, name, err))
	}
	return v
}

func (d *decoder) optionalDecimal(name string) decimal.Decimal {
	if raw, ok := d.fields[name]; !ok || raw == "" || d.err != nil {
		return decimal.Zero
	}
	return d.decimal(name)
}

func (d *decoder) float(name string) float64 {
	raw, ok := d.required(name)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		d.fail(badValue(d.record, name, err))
	}
	return v
}

// parseInteger accepts "901" and, from writers that format every number as a
// float, "901.0". Fractional values are rejected.
func parseInteger(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return int64(f), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
