package adapterflow

import (
	"context"
	"errors"
	"testing"

	"github.com/drblury/adapterflow/adapters/inmemory"
	"github.com/drblury/adapterflow/features"
)

func TestServiceExports(t *testing.T) {
	svc, err := NewService(&Config{}, NopLogger(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	defer svc.Close()

	mem, err := inmemory.New(inmemory.Options{Descriptor: Descriptor{ID: "mem-1", Name: "Memory"}, Store: svc.Store()})
	if err != nil {
		t.Fatalf("unexpected error creating adapter: %v", err)
	}
	if err := svc.RegisterAdapter(mem); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := svc.RegisterAdapter(mem); !errors.Is(err, ErrDuplicateAdapter) {
		t.Fatalf("expected duplicate adapter error, got %v", err)
	}

	hc, err := Resolve(mem, features.HealthCheckFeature)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	seq, err := hc.CheckHealth(context.Background(), NewCallContext("tester", "Tester"))
	if err != nil {
		t.Fatalf("check health failed: %v", err)
	}
	res, err := First(context.Background(), seq)
	if err != nil {
		t.Fatalf("first failed: %v", err)
	}
	if res.Status != features.Healthy {
		t.Fatalf("expected healthy adapter, got %s", res.Status)
	}

	info := Describe(mem)
	if len(info.Features) != len(features.Builtins()) || len(info.Extensions) != 1 {
		t.Fatalf("unexpected adapter info: %#v", info)
	}
}

func TestSequenceExports(t *testing.T) {
	items, err := Collect(context.Background(), FromSlice(1, 2, 3))
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(items) != 3 || items[2] != 3 {
		t.Fatalf("unexpected items: %v", items)
	}
	if p := Bounded(4); !p.IsBounded() {
		t.Fatalf("expected bounded policy, got %+v", p)
	}
}

func TestErrorExports(t *testing.T) {
	var verr *ValidationError
	if _, err := OpenStore(context.Background(), &Config{StoreBackend: "etcd"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(verr, ErrValidation) {
		t.Fatal("expected validation errors to match ErrValidation")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md.Get("key") != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestParseConfigExport(t *testing.T) {
	conf, err := ParseConfig([]byte("store_backend: memory\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if conf.Store() != "memory" {
		t.Fatalf("unexpected store backend %q", conf.Store())
	}
}
