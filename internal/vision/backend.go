package vision

import (
	"fmt"
	"log/slog"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/extract"
)

// OpenExtractor builds the configured extraction backend. The returned close
// func releases model sessions and the runtime for the onnx backend.
func OpenExtractor(cfg config.ExtractionConfig) (extract.Extractor, func(), error) {
	switch cfg.Backend {
	case "http":
		slog.Info("using face service", "url", cfg.URL)
		return extract.NewHTTPClient(cfg.URL, cfg.Timeout), func() {}, nil
	case "onnx":
		teardown, err := InitRuntime("")
		if err != nil {
			return nil, nil, err
		}
		p, err := NewPipeline(cfg)
		if err != nil {
			teardown()
			return nil, nil, err
		}
		return p, func() {
			_ = p.Close()
			teardown()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown extraction backend %q", cfg.Backend)
	}
}
