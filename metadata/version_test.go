package metadata

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataVersion(t *testing.T) {
	for input, want := range map[string]MetadataVersion{
		"3.0-IV1": IBP_3_0_IV1,
		"3.3-iv1": IBP_3_3_IV1,
		"3.3":     IBP_3_3_IV3,
		"3.4.0":   IBP_3_4_IV0,
		"3.5":     IBP_3_5_IV2,
		" 3.2 ":   IBP_3_2_IV0,
	} {
		got, err := ParseMetadataVersion(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"2.8", "3.3-IV9", "latest", ""} {
		_, err := ParseMetadataVersion(input)
		assert.Error(t, err, input)
	}
}

func TestMetadataVersionCapabilities(t *testing.T) {
	for _, tc := range []struct {
		version              MetadataVersion
		controlledShutdown   bool
		migration            bool
		registerBrokerRecord int16
		changeRecord         int16
	}{
		{IBP_3_0_IV1, false, false, 0, 0},
		{IBP_3_3_IV2, false, false, 0, 0},
		{IBP_3_3_IV3, true, false, 1, 1},
		{IBP_3_4_IV0, true, true, 2, 1},
		{IBP_3_5_IV2, true, true, 2, 1},
	} {
		t.Run(tc.version.String(), func(t *testing.T) {
			options := NewImageWriterOptions(tc.version, nil)
			assert.Equal(t, tc.version, options.MetadataVersion())
			assert.Equal(t, tc.controlledShutdown, options.IsInControlledShutdownStateSupported())
			assert.Equal(t, tc.migration, options.IsMigrationSupported())
			assert.Equal(t, tc.registerBrokerRecord, options.RegisterBrokerRecordVersion())
			assert.Equal(t, tc.changeRecord, options.BrokerRegistrationChangeRecordVersion())
		})
	}
	assert.Equal(t, "UNKNOWN(42)", MetadataVersion(42).String())
	assert.Equal(t, int16(7), IBP_3_3_IV3.FeatureLevel())
}

func TestLogLossCountsLosses(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	conf := metrics.DefaultConfig("test")
	conf.EnableRuntimeMetrics = false
	_, err := metrics.NewGlobal(conf, sink)
	require.NoError(t, err)

	r := testRegistrations(t)[1]
	r.ToRecord(NewImageWriterOptions(IBP_3_2_IV0, nil))

	var count int
	for _, interval := range sink.Data() {
		for key, value := range interval.Counters {
			if strings.Contains(key, strings.Join(LossMetricKey, ".")) {
				count += value.Count
			}
		}
	}
	assert.Equal(t, 1, count)
}

func TestUnwritableMetadataError(t *testing.T) {
	err := &UnwritableMetadataError{MetadataVersion: IBP_3_3_IV2, Loss: InControlledShutdownLoss}
	assert.Equal(t, "metadata has been lost because the following could not be represented in metadata version 3.3-IV2: "+
		"the inControlledShutdown state of one or more brokers", err.Error())
}

func TestRegistrationChanges(t *testing.T) {
	r := testRegistrations(t)[0]

	fence, err := FencingChangeFromValue(1)
	require.NoError(t, err)
	fenced := r.CloneWith(fence.AsBool(), NoControlledShutdownChange.AsBool())
	assert.True(t, fenced.Fenced())

	unfence, err := FencingChangeFromValue(-1)
	require.NoError(t, err)
	assert.Same(t, r, r.CloneWith(unfence.AsBool(), nil))

	none, err := FencingChangeFromValue(0)
	require.NoError(t, err)
	assert.Nil(t, none.AsBool())

	_, err = FencingChangeFromValue(2)
	assert.Error(t, err)

	shutdown, err := InControlledShutdownChangeFromValue(1)
	require.NoError(t, err)
	assert.True(t, r.CloneWith(nil, shutdown.AsBool()).InControlledShutdown())
	_, err = InControlledShutdownChangeFromValue(-1)
	assert.Error(t, err)
}
