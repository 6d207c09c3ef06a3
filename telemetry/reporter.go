package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

// HTTPReporter pushes one event per evaluated block to an Initial State
// style events endpoint. Reports are queued and sent by a single worker;
// when the queue is full the report is dropped.
type HTTPReporter struct {
	client    *http.Client
	endpoint  string
	accessKey string
	bucketKey string
	logger    *zap.Logger
	dropped   prometheus.Counter

	queue chan types.BlockReport
}

// NewHTTPReporter creates a reporter. dropped may be nil.
func NewHTTPReporter(endpoint, accessKey, bucketKey string, bufferSize int, timeout time.Duration, dropped prometheus.Counter, logger *zap.Logger) *HTTPReporter {
	return &HTTPReporter{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		accessKey: accessKey,
		bucketKey: bucketKey,
		logger:    logger,
		dropped:   dropped,
		queue:     make(chan types.BlockReport, bufferSize),
	}
}

// Report queues a report without blocking
func (r *HTTPReporter) Report(report types.BlockReport) {
	select {
	case r.queue <- report:
	default:
		r.logger.Debug("Telemetry queue full, dropping report", zap.Uint64("block", report.BlockNumber))
		r.markDropped()
	}
}

// Run sends queued reports until ctx is done
func (r *HTTPReporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-r.queue:
			if err := r.send(ctx, report); err != nil {
				r.logger.Debug("Telemetry push failed",
					zap.Uint64("block", report.BlockNumber),
					zap.Error(err))
				r.markDropped()
			}
		}
	}
}

func (r *HTTPReporter) send(ctx context.Context, report types.BlockReport) error {
	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return fmt.Errorf("invalid telemetry url: %w", err)
	}
	endpoint.RawQuery = Values(report, r.accessKey, r.bucketKey).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}
	return nil
}

func (r *HTTPReporter) markDropped() {
	if r.dropped != nil {
		r.dropped.Inc()
	}
}

// Values renders a report as query parameters, e.g. daiFromUniswap=10012.5
func Values(report types.BlockReport, accessKey, bucketKey string) url.Values {
	v := url.Values{}
	if accessKey != "" {
		v.Set("accessKey", accessKey)
	}
	if bucketKey != "" {
		v.Set("bucketKey", bucketKey)
	}

	v.Set("blockNumber", strconv.FormatUint(report.BlockNumber, 10))
	v.Set("ethPrice", fmath.ToDecimal(report.ReferencePrice.Value, report.ReferenceToken.Decimals))

	for _, out := range report.Outputs {
		symbol := strings.ToLower(out.Pair.Stable.Symbol)
		decimals := out.Pair.Stable.Decimals
		if out.FromPool != nil {
			v.Set(symbol+"FromUniswap", fmath.ToDecimal(out.FromPool, decimals))
		}
		if out.FromOracle != nil {
			v.Set(symbol+"FromKyber", fmath.ToDecimal(out.FromOracle, decimals))
		}
	}
	return v
}
