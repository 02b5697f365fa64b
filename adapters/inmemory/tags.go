package inmemory

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/stream"
)

const errUnknownTag = "unknown tag"

type tagState struct {
	def      features.TagDefinition
	samples  []features.TagValue
	snapshot *features.TagValue
}

func (t *tagState) result(queryType string, v features.TagValue) features.TagValueQueryResult {
	if v.Units == "" {
		v.Units = t.def.Units
	}
	return features.TagValueQueryResult{TagID: t.def.ID, TagName: t.def.Name, QueryType: queryType, Value: v}
}

// insert keeps samples ordered by time. A sample at an existing time
// replaces it.
func (t *tagState) insert(v features.TagValue) {
	i := sort.Search(len(t.samples), func(i int) bool { return !t.samples[i].UtcSampleTime.Before(v.UtcSampleTime) })
	switch {
	case i < len(t.samples) && t.samples[i].UtcSampleTime.Equal(v.UtcSampleTime):
		t.samples[i] = v
	default:
		t.samples = append(t.samples, features.TagValue{})
		copy(t.samples[i+1:], t.samples[i:])
		t.samples[i] = v
	}
	if t.snapshot == nil || !v.UtcSampleTime.Before(t.snapshot.UtcSampleTime) {
		s := v
		t.snapshot = &s
	}
}

// AddTag defines a tag and records its history. The latest sample becomes
// the snapshot value.
func (a *Adapter) AddTag(def features.TagDefinition, samples ...features.TagValue) error {
	if strings.TrimSpace(def.ID) == "" {
		return errspkg.Validation("id", "tag id is required")
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tags[def.ID]; ok {
		return errspkg.Validation("id", fmt.Sprintf("tag %q already exists", def.ID))
	}
	t := &tagState{def: def}
	for _, s := range samples {
		t.insert(withDefaultStatus(s))
	}
	a.tags[def.ID] = t
	a.tagOrder = append(a.tagOrder, def.ID)
	return nil
}

func withDefaultStatus(v features.TagValue) features.TagValue {
	if v.Status == "" {
		v.Status = features.StatusGood
	}
	return v
}

// lookupLocked finds a tag by id, then by name.
func (a *Adapter) lookupLocked(idOrName string) (*tagState, bool) {
	if t, ok := a.tags[idOrName]; ok {
		return t, true
	}
	for _, id := range a.tagOrder {
		if t := a.tags[id]; strings.EqualFold(t.def.Name, idOrName) {
			return t, true
		}
	}
	return nil, false
}

func unknownTag(queryType, tag string) features.TagValueQueryResult {
	return features.TagValueQueryResult{
		TagID:     tag,
		TagName:   tag,
		QueryType: queryType,
		Value:     features.TagValue{Status: features.StatusBad, Error: errUnknownTag},
	}
}

// wildcard compiles a filter where '*' matches any run of characters. An
// empty filter matches everything.
func wildcard(filter string) *regexp.Regexp {
	if filter == "" || filter == "*" {
		return nil
	}
	pattern := strings.ReplaceAll(regexp.QuoteMeta(filter), `\*`, ".*")
	return regexp.MustCompile("(?i)^" + pattern + "$")
}

func matches(re *regexp.Regexp, s string) bool { return re == nil || re.MatchString(s) }

func page[T any](items []T, pageSize, page int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

func (a *Adapter) FindTags(_ context.Context, _ *adapter.CallContext, req features.FindTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name, desc, units, label := wildcard(req.Name), wildcard(req.Description), wildcard(req.Units), wildcard(req.Label)

	a.mu.RLock()
	var found []features.TagDefinition
	for _, id := range a.tagOrder {
		def := a.tags[id].def
		if !matches(name, def.Name) || !matches(desc, def.Description) || !matches(units, def.Units) {
			continue
		}
		if label != nil && !anyMatch(label, def.Labels) {
			continue
		}
		if !propertiesMatch(req.Other, def.Properties) {
			continue
		}
		found = append(found, def)
	}
	a.mu.RUnlock()
	return stream.FromSlice(page(found, req.PageSize, req.Page)...), nil
}

func anyMatch(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

func propertiesMatch(filters map[string]string, props []features.AdapterProperty) bool {
	for name, filter := range filters {
		re := wildcard(filter)
		ok := false
		for _, p := range props {
			if strings.EqualFold(p.Name, name) && matches(re, fmt.Sprint(p.Value)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (a *Adapter) GetTags(_ context.Context, _ *adapter.CallContext, req features.GetTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.TagDefinition
	for _, tag := range req.Tags {
		if t, ok := a.lookupLocked(tag); ok {
			out = append(out, t.def)
		}
	}
	return stream.FromSlice(out...), nil
}

func (a *Adapter) ReadSnapshotTagValues(_ context.Context, _ *adapter.CallContext, req features.ReadSnapshotTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]features.TagValueQueryResult, 0, len(req.Tags))
	for _, tag := range req.Tags {
		out = append(out, a.snapshotLocked(tag))
	}
	return stream.FromSlice(out...), nil
}

func (a *Adapter) snapshotLocked(tag string) features.TagValueQueryResult {
	t, ok := a.lookupLocked(tag)
	if !ok {
		return unknownTag(features.QuerySnapshot, tag)
	}
	if t.snapshot == nil {
		return t.result(features.QuerySnapshot, features.TagValue{Status: features.StatusBad, Error: "no value"})
	}
	return t.result(features.QuerySnapshot, *t.snapshot)
}

// window returns the samples in [start, end]. With outside set it also
// includes the nearest sample on each side of the range.
func window(samples []features.TagValue, start, end time.Time, outside bool) []features.TagValue {
	lo := sort.Search(len(samples), func(i int) bool { return !samples[i].UtcSampleTime.Before(start) })
	hi := sort.Search(len(samples), func(i int) bool { return samples[i].UtcSampleTime.After(end) })
	if outside {
		if lo > 0 {
			lo--
		}
		if hi < len(samples) {
			hi++
		}
	}
	return samples[lo:hi]
}

func (a *Adapter) ReadRawTagValues(_ context.Context, _ *adapter.CallContext, req features.ReadRawTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.TagValueQueryResult
	for _, tag := range req.Tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			out = append(out, unknownTag(features.QueryRaw, tag))
			continue
		}
		values := window(t.samples, req.UtcStartTime, req.UtcEndTime, req.BoundaryType == features.BoundaryOutside)
		if req.SampleCount > 0 && len(values) > req.SampleCount {
			values = values[:req.SampleCount]
		}
		for _, v := range values {
			out = append(out, t.result(features.QueryRaw, v))
		}
	}
	return stream.FromSlice(out...), nil
}

// ReadPlotTagValues splits the range into intervals and keeps the first,
// last, minimum and maximum sample of each, which preserves the shape of a
// trend at any zoom level.
func (a *Adapter) ReadPlotTagValues(_ context.Context, _ *adapter.CallContext, req features.ReadPlotTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	span := req.UtcEndTime.Sub(req.UtcStartTime)
	width := span / time.Duration(req.Intervals)
	if width <= 0 {
		width = 1
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.TagValueQueryResult
	for _, tag := range req.Tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			out = append(out, unknownTag(features.QueryPlot, tag))
			continue
		}
		for _, v := range plot(window(t.samples, req.UtcStartTime, req.UtcEndTime, false), req.UtcStartTime, width) {
			out = append(out, t.result(features.QueryPlot, v))
		}
	}
	return stream.FromSlice(out...), nil
}

func plot(samples []features.TagValue, start time.Time, width time.Duration) []features.TagValue {
	var out []features.TagValue
	for i := 0; i < len(samples); {
		bucket := samples[i].UtcSampleTime.Sub(start) / width
		j := i
		for j < len(samples) && samples[j].UtcSampleTime.Sub(start)/width == bucket {
			j++
		}
		out = append(out, significant(samples[i:j])...)
		i = j
	}
	return out
}

// significant returns the first, minimum, maximum and last samples of one
// plot interval in time order, without duplicates.
func significant(bucket []features.TagValue) []features.TagValue {
	keep := map[int]bool{0: true, len(bucket) - 1: true}
	minIdx, maxIdx := -1, -1
	var minV, maxV float64
	for i, v := range bucket {
		f, ok := v.Float()
		if !ok {
			continue
		}
		if minIdx < 0 || f < minV {
			minIdx, minV = i, f
		}
		if maxIdx < 0 || f > maxV {
			maxIdx, maxV = i, f
		}
	}
	if minIdx >= 0 {
		keep[minIdx], keep[maxIdx] = true, true
	}
	out := make([]features.TagValue, 0, len(keep))
	for i, v := range bucket {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

var dataFunctions = []features.DataFunctionDescriptor{
	{ID: features.DataFunctionAverage, Name: "Average", Description: "Mean of the good numeric samples in the interval."},
	{ID: features.DataFunctionMinimum, Name: "Minimum", Description: "Smallest good numeric sample in the interval."},
	{ID: features.DataFunctionMaximum, Name: "Maximum", Description: "Largest good numeric sample in the interval."},
	{ID: features.DataFunctionCount, Name: "Count", Description: "Number of samples in the interval."},
	{ID: features.DataFunctionRange, Name: "Range", Description: "Maximum minus minimum in the interval."},
}

func (a *Adapter) GetSupportedDataFunctions(context.Context, *adapter.CallContext) (*stream.Sequence[features.DataFunctionDescriptor], error) {
	return stream.FromSlice(dataFunctions...), nil
}

func supportedDataFunction(id string) bool {
	for _, f := range dataFunctions {
		if strings.EqualFold(f.ID, id) {
			return true
		}
	}
	return false
}

func (a *Adapter) ReadProcessedTagValues(_ context.Context, _ *adapter.CallContext, req features.ReadProcessedTagValuesRequest) (*stream.Sequence[features.ProcessedTagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	for i, fn := range req.DataFunctions {
		if !supportedDataFunction(fn) {
			return nil, errspkg.Validation(fmt.Sprintf("dataFunctions[%d]", i), fmt.Sprintf("unsupported data function %q", fn))
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.ProcessedTagValueQueryResult
	for _, tag := range req.Tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			for _, fn := range req.DataFunctions {
				out = append(out, features.ProcessedTagValueQueryResult{TagValueQueryResult: unknownTag(features.QueryProcessed, tag), DataFunction: fn})
			}
			continue
		}
		for start := req.UtcStartTime; start.Before(req.UtcEndTime); start = start.Add(req.SampleInterval) {
			end := start.Add(req.SampleInterval)
			bucket := window(t.samples, start, end.Add(-time.Nanosecond), false)
			for _, fn := range req.DataFunctions {
				out = append(out, features.ProcessedTagValueQueryResult{
					TagValueQueryResult: t.result(features.QueryProcessed, aggregate(strings.ToUpper(fn), start, bucket)),
					DataFunction:        strings.ToUpper(fn),
				})
			}
		}
	}
	return stream.FromSlice(out...), nil
}

func aggregate(fn string, at time.Time, bucket []features.TagValue) features.TagValue {
	if fn == features.DataFunctionCount {
		return features.TagValue{UtcSampleTime: at, Value: float64(len(bucket)), Status: features.StatusGood}
	}
	var sum float64
	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range bucket {
		f, ok := v.Float()
		if !ok || v.Status == features.StatusBad {
			continue
		}
		sum += f
		lo, hi = math.Min(lo, f), math.Max(hi, f)
		n++
	}
	if n == 0 {
		return features.TagValue{UtcSampleTime: at, Status: features.StatusBad, Error: "no numeric samples in interval"}
	}
	var value float64
	switch fn {
	case features.DataFunctionAverage:
		value = sum / float64(n)
	case features.DataFunctionMinimum:
		value = lo
	case features.DataFunctionMaximum:
		value = hi
	case features.DataFunctionRange:
		value = hi - lo
	}
	status := features.StatusGood
	if n < len(bucket) {
		status = features.StatusUncertain
	}
	return features.TagValue{UtcSampleTime: at, Value: value, Status: status}
}

func (a *Adapter) ReadTagValuesAtTimes(_ context.Context, _ *adapter.CallContext, req features.ReadTagValuesAtTimesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	times := append([]time.Time(nil), req.UtcSampleTimes...)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.TagValueQueryResult
	for _, tag := range req.Tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			out = append(out, unknownTag(features.QueryAtTimes, tag))
			continue
		}
		for _, at := range times {
			out = append(out, t.result(features.QueryAtTimes, interpolate(t.samples, at)))
		}
	}
	return stream.FromSlice(out...), nil
}

// interpolate returns the value at the given instant: exact samples as
// recorded, numeric values interpolated linearly between neighbours, and
// anything else held from the previous sample.
func interpolate(samples []features.TagValue, at time.Time) features.TagValue {
	i := sort.Search(len(samples), func(i int) bool { return samples[i].UtcSampleTime.After(at) })
	if i == 0 {
		return features.TagValue{UtcSampleTime: at, Status: features.StatusBad, Error: "no data before sample time"}
	}
	prev := samples[i-1]
	if prev.UtcSampleTime.Equal(at) {
		return prev
	}
	out := prev
	out.UtcSampleTime = at
	if i == len(samples) {
		return out
	}
	next := samples[i]
	p, okP := prev.Float()
	n, okN := next.Float()
	if !okP || !okN {
		return out
	}
	frac := float64(at.Sub(prev.UtcSampleTime)) / float64(next.UtcSampleTime.Sub(prev.UtcSampleTime))
	out.Value = p + (n-p)*frac
	out.DisplayValue = ""
	if prev.Status != features.StatusGood || next.Status != features.StatusGood {
		out.Status = features.StatusUncertain
	}
	return out
}

// WriteSnapshotTagValues records each item as a new sample and publishes
// the changed snapshots to the push feeds. Items for unknown tags fail
// individually without ending the write.
func (a *Adapter) WriteSnapshotTagValues(ctx context.Context, _ *adapter.CallContext, req features.WriteTagValuesRequest, values stream.Source[features.WriteTagValueItem]) (*stream.Sequence[features.WriteTagValueResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return stream.Map(ctx, values, stream.Unbounded(), func(item features.WriteTagValueItem) (features.WriteTagValueResult, error) {
		res := features.WriteTagValueResult{CorrelationID: item.CorrelationID, TagID: item.TagID, Status: features.WriteSuccess}
		if err := item.Validate(); err != nil {
			res.Status, res.Notes = features.WriteFail, err.Error()
			return res, nil
		}
		if err := a.WriteValue(item.TagID, features.TagValue{
			UtcSampleTime: item.UtcSampleTime,
			Value:         item.Value,
			Status:        item.Status,
			Units:         item.Units,
		}); err != nil {
			res.Status, res.Notes = features.WriteFail, err.Error()
		}
		return res, nil
	}, stream.WithName("inmemory.write-snapshot")), nil
}

// WriteValue records a sample for a tag. When it becomes the snapshot it is
// published to every snapshot feed that covers the tag.
func (a *Adapter) WriteValue(tag string, v features.TagValue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.lookupLocked(tag)
	if !ok {
		return errspkg.Validation("tagId", fmt.Sprintf("%s %q", errUnknownTag, tag))
	}
	v = withDefaultStatus(v)
	if v.UtcSampleTime.IsZero() {
		v.UtcSampleTime = a.now().UTC()
	}
	before := t.snapshot
	t.insert(v)
	if t.snapshot != before {
		a.publishSnapshotLocked(t)
	}
	return nil
}
