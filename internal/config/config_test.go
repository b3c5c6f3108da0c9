package config

import "testing"

func TestDefaultPopulatesCoreFields(t *testing.T) {
	c := Default()
	if c.Store.MaxEntries == 0 {
		t.Fatalf("expected non-zero default MaxEntries")
	}
	if c.Partition.PartitionCount != 256 {
		t.Fatalf("expected default partition count 256, got %d", c.Partition.PartitionCount)
	}
	if c.HTTP.ListenAddr == "" {
		t.Fatalf("expected default listen addr")
	}
}
