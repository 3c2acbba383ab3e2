package metrics

// Transcode outcomes used as the status label of TranscodesTotal.
const (
	StatusSuccess     = "success"
	StatusMetadata    = "error_metadata"
	StatusArchive     = "error_archive"
	StatusDecode      = "error_decode"
	StatusEncode      = "error_encode"
	StatusCanceled    = "canceled"
	StatusUnavailable = "error_unavailable"
)

// Upstream endpoints used as the endpoint label.
const (
	EndpointMetadata = "metadata"
	EndpointArchive  = "archive"
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics(encoders ...string) {
	statuses := []string{StatusSuccess, StatusMetadata, StatusArchive, StatusDecode, StatusEncode, StatusCanceled, StatusUnavailable}
	for _, enc := range encoders {
		for _, s := range statuses {
			TranscodesTotal.WithLabelValues(enc, s)
		}
		TranscodeDuration.WithLabelValues(enc)
	}

	for _, codec := range []string{"jpeg", "png"} {
		FramesProcessed.WithLabelValues(codec)
	}

	for _, ep := range []string{EndpointMetadata, EndpointArchive} {
		UpstreamRequestDuration.WithLabelValues(ep)
		UpstreamRequestsTotal.WithLabelValues(ep, "success")
		UpstreamRequestsTotal.WithLabelValues(ep, "error")
	}

	for _, op := range []string{"stat", "read", "write", "remove"} {
		FilesystemStaleErrors.WithLabelValues(op)
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
	}

	for _, op := range []string{"initialize_schema", "record_transcode", "get_transcode", "list_transcodes", "delete_transcodes", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
