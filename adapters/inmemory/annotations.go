package inmemory

import (
	"context"
	"slices"
	"time"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	"github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/stream"
)

const errUnknownAnnotation = "unknown annotation"

// overlaps reports whether an annotation touches [start, end].
func overlaps(f features.AnnotationFields, start, end time.Time) bool {
	last := f.UtcStartTime
	if f.AnnotationType == features.AnnotationTimeRange && f.UtcEndTime != nil {
		last = *f.UtcEndTime
	}
	return !f.UtcStartTime.After(end) && !last.Before(start)
}

func (a *Adapter) ReadAnnotations(_ context.Context, _ *adapter.CallContext, req features.ReadAnnotationsRequest) (*stream.Sequence[features.TagValueAnnotationQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.TagValueAnnotationQueryResult
	for _, tag := range req.Tags {
		t, ok := a.lookupLocked(tag)
		if !ok {
			continue
		}
		res := features.TagValueAnnotationQueryResult{TagID: t.def.ID, TagName: t.def.Name, Annotations: []features.TagValueAnnotation{}}
		for _, ann := range a.annotations[t.def.ID] {
			if !overlaps(ann.AnnotationFields, req.UtcStartTime, req.UtcEndTime) {
				continue
			}
			res.Annotations = append(res.Annotations, ann)
			if req.MaxAnnotationCount > 0 && len(res.Annotations) == req.MaxAnnotationCount {
				break
			}
		}
		out = append(out, res)
	}
	return stream.FromSlice(out...), nil
}

// ReadAnnotation yields the annotation, or completes empty when it does not
// exist.
func (a *Adapter) ReadAnnotation(_ context.Context, _ *adapter.CallContext, req features.ReadAnnotationRequest) (*stream.Sequence[features.TagValueAnnotation], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := a.annotationIndexLocked(req.TagID, req.AnnotationID); i >= 0 {
		return stream.FromSlice(a.annotations[req.TagID][i]), nil
	}
	return stream.FromSlice[features.TagValueAnnotation](), nil
}

func (a *Adapter) annotationIndexLocked(tagID, id string) int {
	return slices.IndexFunc(a.annotations[tagID], func(ann features.TagValueAnnotation) bool { return ann.ID == id })
}

func (a *Adapter) CreateAnnotation(_ context.Context, _ *adapter.CallContext, req features.CreateAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.lookupLocked(req.TagID)
	if !ok {
		return stream.FromSlice(features.WriteTagValueAnnotationResult{TagID: req.TagID, Status: features.WriteFail, Notes: errUnknownTag}), nil
	}
	ann := features.TagValueAnnotation{ID: ids.WithPrefix("ann"), TagID: t.def.ID, AnnotationFields: req.Annotation}
	list := append(a.annotations[t.def.ID], ann)
	slices.SortStableFunc(list, func(x, y features.TagValueAnnotation) int {
		return x.UtcStartTime.Compare(y.UtcStartTime)
	})
	a.annotations[t.def.ID] = list
	return stream.FromSlice(features.WriteTagValueAnnotationResult{TagID: t.def.ID, AnnotationID: ann.ID, Status: features.WriteSuccess}), nil
}

func (a *Adapter) UpdateAnnotation(_ context.Context, _ *adapter.CallContext, req features.UpdateAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res := features.WriteTagValueAnnotationResult{TagID: req.TagID, AnnotationID: req.AnnotationID, Status: features.WriteSuccess}
	i := a.annotationIndexLocked(req.TagID, req.AnnotationID)
	if i < 0 {
		res.Status, res.Notes = features.WriteFail, errUnknownAnnotation
		return stream.FromSlice(res), nil
	}
	list := a.annotations[req.TagID]
	list[i].AnnotationFields = req.Annotation
	slices.SortStableFunc(list, func(x, y features.TagValueAnnotation) int {
		return x.UtcStartTime.Compare(y.UtcStartTime)
	})
	return stream.FromSlice(res), nil
}

func (a *Adapter) DeleteAnnotation(_ context.Context, _ *adapter.CallContext, req features.DeleteAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	res := features.WriteTagValueAnnotationResult{TagID: req.TagID, AnnotationID: req.AnnotationID, Status: features.WriteSuccess}
	i := a.annotationIndexLocked(req.TagID, req.AnnotationID)
	if i < 0 {
		res.Status, res.Notes = features.WriteFail, errUnknownAnnotation
		return stream.FromSlice(res), nil
	}
	a.annotations[req.TagID] = slices.Delete(a.annotations[req.TagID], i, i+1)
	return stream.FromSlice(res), nil
}
