// Package bench implements the concurrent benchmark driver of spec.md
// §4.7/§5: hotspot-weighted key/value generation, latency-percentile
// aggregation, and the writer+reader coordinator, ported from the
// original's DataGenerator, MetricsCollector, and test_concurrent_read_write
// (src/utils/data_generator.{hpp,cpp},
// src/benchmark/metrics_collector.{hpp,cpp},
// tests/test_concurrent_read_write.cpp).
package bench

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/erigontech/histkv/numeric"
	"github.com/erigontech/histkv/rangekey"
)

// KeySpace holds the generated AddrSlot population, split into hotspot,
// medium, and tail bands, matching DataGenerator::Config.
type KeySpace struct {
	Keys          []rangekey.AddrSlot
	HotspotCount  int
	MediumCount   int
	TailCount     int
	valueCounter  uint64
}

// addrHexDigits is the lowercase hex alphabet the 40 address characters (a
// 20-byte account address) are drawn from.
const addrHexDigits = "0123456789abcdef"

// NewKeySpace builds totalKeys AddrSlots as "0x"+40 hex digits+"#slot"+N,
// identical in shape to DataGenerator::generate_initial_keys_parallel, split
// 10% hotspot / 20% medium / 70% tail by default (the ratios
// test_concurrent_read_write.cpp uses) when hotspotCount and mediumCount are
// both zero or together exceed totalKeys, and by the given bands otherwise.
func NewKeySpace(rng *rand.Rand, totalKeys, hotspotCount, mediumCount int) *KeySpace {
	if hotspotCount+mediumCount > totalKeys || (hotspotCount == 0 && mediumCount == 0) {
		hotspotCount = numeric.CeilDiv(totalKeys, 10)
		mediumCount = numeric.CeilDiv(totalKeys*2, 10)
		if hotspotCount+mediumCount > totalKeys {
			mediumCount = totalKeys - hotspotCount
		}
	}
	tailCount := totalKeys - hotspotCount - mediumCount

	keys := make([]rangekey.AddrSlot, totalKeys)
	for i := range keys {
		keys[i] = randomAddrSlot(rng)
	}

	return &KeySpace{
		Keys:         keys,
		HotspotCount: hotspotCount,
		MediumCount:  mediumCount,
		TailCount:    tailCount,
	}
}

func randomAddrSlot(rng *rand.Rand) rangekey.AddrSlot {
	buf := make([]byte, 0, 2+40+1+4+7)
	buf = append(buf, '0', 'x')
	for i := 0; i < 40; i++ {
		buf = append(buf, addrHexDigits[rng.Intn(16)])
	}
	buf = append(buf, '#')
	buf = append(buf, []byte(fmt.Sprintf("slot%d", rng.Intn(1000000)))...)
	return rangekey.AddrSlot(buf)
}

// HotspotUpdateIndices returns batchSize key indices into ks.Keys, weighted
// 80% hotspot band / 10% medium band / 10% tail band and shuffled, matching
// DataGenerator::generate_hotspot_update_indices. An empty band contributes
// no indices, so fewer than batchSize are returned when a band is empty.
func (ks *KeySpace) HotspotUpdateIndices(rng *rand.Rand, batchSize int) []int {
	hotspotN := int(float64(batchSize) * 0.8)
	mediumN := int(float64(batchSize) * 0.1)
	tailN := batchSize - hotspotN - mediumN

	indices := make([]int, 0, batchSize)

	hotEnd := ks.HotspotCount
	medStart, medEnd := ks.HotspotCount, ks.HotspotCount+ks.MediumCount
	tailStart, tailEnd := medEnd, len(ks.Keys)

	for i := 0; i < hotspotN && hotEnd > 0; i++ {
		indices = append(indices, rng.Intn(hotEnd))
	}
	if medEnd > medStart {
		for i := 0; i < mediumN; i++ {
			indices = append(indices, medStart+rng.Intn(medEnd-medStart))
		}
	}
	if tailEnd > tailStart {
		for i := 0; i < tailN; i++ {
			indices = append(indices, tailStart+rng.Intn(tailEnd-tailStart))
		}
	}

	rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	return indices
}

// RandomValue returns a 32-byte value, deterministically unique across the
// lifetime of ks the same way generate_unique_random_value is: a splitmix64
// mix of a monotonic counter, avoiding any shared mutable RNG state on the
// hot write path.
func (ks *KeySpace) RandomValue() []byte {
	index := ks.valueCounter
	ks.valueCounter++
	return uniqueValue(index)
}

// RandomValues returns count values, each unique, reserving a contiguous
// block of the counter up front the way generate_random_values batches its
// global atomic counter.
func (ks *KeySpace) RandomValues(count int) [][]byte {
	start := ks.valueCounter
	ks.valueCounter += uint64(count)
	values := make([][]byte, count)
	for i := range values {
		values[i] = uniqueValue(start + uint64(i))
	}
	return values
}

// goldenRatio64 is the same golden-ratio mixing constant the original uses
// to decorrelate the four splitmix64 lanes.
const goldenRatio64 = 0x9E3779B97F4A7C15

func uniqueValue(index uint64) []byte {
	base := index + goldenRatio64
	h1 := splitmix64(base)
	h2 := splitmix64(base ^ 0x87654321FEDCBA98)
	h3 := splitmix64(base ^ 0x0123456789ABCDEF)
	h4 := splitmix64(base ^ 0xFEDCBA9876543210)

	value := make([]byte, 32)
	binary.LittleEndian.PutUint64(value[0:8], h1)
	binary.LittleEndian.PutUint64(value[8:16], h2)
	binary.LittleEndian.PutUint64(value[16:24], h3)
	binary.LittleEndian.PutUint64(value[24:32], h4)
	return value
}

func splitmix64(x uint64) uint64 {
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}
