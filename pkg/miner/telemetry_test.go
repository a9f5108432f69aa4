package miner

import "testing"

func TestFieldSet_Has(t *testing.T) {
	if !AllFields.Has(FieldErrors) {
		t.Error("AllFields.Has(errors) = false, want true")
	}
	if FastFields.Has(FieldErrors) {
		t.Error("FastFields.Has(errors) = true, want false")
	}
	if !FastFields.Has(FieldHashrate) {
		t.Error("FastFields.Has(hashrate) = false, want true")
	}
	if NewFieldSet().Has(FieldModel) {
		t.Error("empty set must not match")
	}
}
