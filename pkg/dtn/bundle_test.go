package dtn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/packet"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		BundleID: 7, Source: 1, Destination: 2, Custodian: 1, CreationTime: 1234, TTL: 86400,
		Flags: FlagCustodyRequested, Priority: packet.PriorityExpedited,
		FragOffset: 0, FragCount: 1, HopCount: 0, MaxHops: 3,
	}
	frame := h.Encode([]byte("hello"))

	got, data, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, "hello", string(data))
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCustodySignalEncodeDecodeRoundTrip(t *testing.T) {
	sig := CustodySignal{BundleID: 99, Accept: true}
	got, err := DecodeCustodySignal(sig.Encode())
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestDeliveryReportEncodeDecodeRoundTrip(t *testing.T) {
	r := DeliveryReport{ReportedID: 42, DeliveredAt: 5000}
	got, err := DecodeDeliveryReport(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestFragmentBundleUnderThresholdIsSingleFragment(t *testing.T) {
	payload := make([]byte, FragmentThreshold)
	headers := FragmentBundle(1, 1, 2, 1, time.Now(), FlagEpidemic, packet.PriorityNormal, MaxEpidemicCopies, payload)
	require.Len(t, headers, 1)
	assert.Equal(t, byte(1), headers[0].FragCount)
}

func TestFragmentBundleOverThresholdSplits(t *testing.T) {
	payload := make([]byte, FragmentThreshold*2+10)
	headers := FragmentBundle(1, 1, 2, 1, time.Now(), FlagEpidemic, packet.PriorityNormal, MaxEpidemicCopies, payload)
	require.Len(t, headers, 3)
	for i, h := range headers {
		assert.Equal(t, byte(i), h.FragOffset)
		assert.Equal(t, byte(3), h.FragCount)
		assert.True(t, h.Flags.Has(FlagFragment))
	}
}

func TestFragmentDataCoversWholePayloadWithNoOverlap(t *testing.T) {
	payload := make([]byte, FragmentThreshold*2+10)
	for i := range payload {
		payload[i] = byte(i)
	}
	headers := FragmentBundle(1, 1, 2, 1, time.Now(), FlagEpidemic, packet.PriorityNormal, MaxEpidemicCopies, payload)

	var reassembled []byte
	for i := range headers {
		reassembled = append(reassembled, FragmentData(payload, i, len(headers))...)
	}
	assert.Equal(t, payload, reassembled)
}

func TestReassembleSingleFragmentCompletesImmediately(t *testing.T) {
	table := NewTable()
	h := Header{BundleID: 1, Source: 1, Destination: 2, FragCount: 1}
	b, complete := table.Reassemble(h, []byte("hello"))
	require.True(t, complete)
	assert.Equal(t, "hello", string(b.Payload))
}

func TestReassembleMultiFragmentWaitsForAll(t *testing.T) {
	table := NewTable()
	payload := make([]byte, FragmentThreshold*2+10)
	for i := range payload {
		payload[i] = byte(i)
	}
	headers := FragmentBundle(5, 1, 2, 1, time.Now(), FlagEpidemic, packet.PriorityNormal, MaxEpidemicCopies, payload)

	var complete bool
	var bundle Bundle
	for i, h := range headers {
		frag := FragmentData(payload, i, len(headers))
		bundle, complete = table.Reassemble(h, frag)
		if i < len(headers)-1 {
			assert.False(t, complete, "should not complete before final fragment")
		}
	}
	require.True(t, complete)
	assert.Equal(t, payload, bundle.Payload)
}
