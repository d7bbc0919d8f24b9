package metadata

import (
	"fmt"

	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/hashicorp/go-metrics"
)

// WriterOptions is what a registration needs to know about the metadata
// version it is being written at.
type WriterOptions interface {
	MetadataVersion() MetadataVersion
	IsInControlledShutdownStateSupported() bool
	IsMigrationSupported() bool
	RegisterBrokerRecordVersion() int16
	BrokerRegistrationChangeRecordVersion() int16
	// HandleLoss is called when some state can't be represented at the metadata version
	HandleLoss(loss string)
}

// UnwritableMetadataError describes state that was dropped while writing at an older metadata version
type UnwritableMetadataError struct {
	MetadataVersion MetadataVersion
	Loss            string
}

func (e *UnwritableMetadataError) Error() string {
	return fmt.Sprintf("metadata has been lost because the following could not be represented in metadata version %s: %s",
		e.MetadataVersion, e.Loss)
}

// LossHandler receives every loss reported while writing
type LossHandler func(err *UnwritableMetadataError)

// LossMetricKey is incremented for every reported loss
var LossMetricKey = []string{"registry", "registration", "loss"}

// LogLoss is the default LossHandler: it logs a warning and counts the loss
func LogLoss(err *UnwritableMetadataError) {
	log.Warn("%v", err)
	metrics.IncrCounterWithLabels(LossMetricKey, 1, []metrics.Label{{Name: "metadata_version", Value: err.MetadataVersion.String()}})
}

// ImageWriterOptions implements WriterOptions for a fixed metadata version
type ImageWriterOptions struct {
	metadataVersion MetadataVersion
	lossHandler     LossHandler
}

// NewImageWriterOptions returns options writing at version. A nil handler means LogLoss.
func NewImageWriterOptions(version MetadataVersion, handler LossHandler) *ImageWriterOptions {
	if handler == nil {
		handler = LogLoss
	}
	return &ImageWriterOptions{metadataVersion: version, lossHandler: handler}
}

func (o *ImageWriterOptions) MetadataVersion() MetadataVersion { return o.metadataVersion }

func (o *ImageWriterOptions) IsInControlledShutdownStateSupported() bool {
	return o.metadataVersion.IsInControlledShutdownStateSupported()
}

func (o *ImageWriterOptions) IsMigrationSupported() bool {
	return o.metadataVersion.IsMigrationSupported()
}

func (o *ImageWriterOptions) RegisterBrokerRecordVersion() int16 {
	return o.metadataVersion.RegisterBrokerRecordVersion()
}

func (o *ImageWriterOptions) BrokerRegistrationChangeRecordVersion() int16 {
	return o.metadataVersion.BrokerRegistrationChangeRecordVersion()
}

func (o *ImageWriterOptions) HandleLoss(loss string) {
	o.lossHandler(&UnwritableMetadataError{MetadataVersion: o.metadataVersion, Loss: loss})
}
