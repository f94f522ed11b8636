package checksum_test

import (
	"testing"

	"github.com/corfudb-go/logunit/pkg/checksum"
)

func TestVerifyRoundTrip(t *testing.T) {
	data := []byte("a stream of bytes to protect")
	sum := checksum.Compute(data)

	if !checksum.Verify(data, sum) {
		t.Fatalf("expected checksum to verify")
	}
}

func TestVerifyDetectsSingleBitFlip(t *testing.T) {
	data := []byte("a stream of bytes to protect")
	sum := checksum.Compute(data)

	corrupt := append([]byte(nil), data...)
	corrupt[3] ^= 0x01

	if checksum.Verify(corrupt, sum) {
		t.Fatalf("expected checksum mismatch after single-bit flip")
	}
}

func TestComputeDeterministic(t *testing.T) {
	data := []byte("deterministic")
	if checksum.Compute(data) != checksum.Compute(data) {
		t.Fatalf("checksum should be deterministic")
	}
}
