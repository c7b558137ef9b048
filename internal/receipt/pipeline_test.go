package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zombor/receipt-scanner/internal/category"
	"github.com/zombor/receipt-scanner/internal/imaging"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

// fakeNormalizer is a mock implementation of Normalizer
type fakeNormalizer struct {
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(raw imaging.RawImage) (*imaging.NormalizedImage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &imaging.NormalizedImage{Data: raw.Data, ContentType: "image/png", Width: 1, Height: 1}, nil
}

// fakeRecognizer is a mock implementation of Recognizer
type fakeRecognizer struct {
	text  string
	err   error
	calls int
	got   *imaging.NormalizedImage
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img *imaging.NormalizedImage, progress ocr.ProgressFunc) (string, error) {
	f.calls++
	f.got = img
	if f.err != nil {
		return "", f.err
	}
	if progress != nil {
		progress(100)
	}
	return f.text, nil
}

func (f *fakeRecognizer) State() ocr.State {
	return ocr.Idle
}

var _ = Describe("Pipeline", func() {
	var (
		normalizer *fakeNormalizer
		recognizer *fakeRecognizer
		registry   *prometheus.Registry
		recorder   *metrics.Recorder
		pipeline   *Pipeline
	)

	BeforeEach(func() {
		normalizer = &fakeNormalizer{}
		recognizer = &fakeRecognizer{text: "SWIGGY\nOrder 07/05/2023\nItem 99.00\nTotal: 349.00"}
		registry = prometheus.NewRegistry()
		recorder = metrics.New(registry)
		pipeline = NewPipeline(normalizer, recognizer, nil, recorder)
	})

	expectScans := func(outcome string) {
		expected := fmt.Sprintf(`
# HELP receipt_scanner_pipeline_scans_total Count of receipt pipeline runs by outcome
# TYPE receipt_scanner_pipeline_scans_total counter
receipt_scanner_pipeline_scans_total{outcome="%s"} 1
`, outcome)
		Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected), "receipt_scanner_pipeline_scans_total")).To(Succeed())
	}

	Describe("Scan", func() {
		var (
			result *Result
			err    error
		)

		JustBeforeEach(func() {
			result, err = pipeline.Scan(context.Background(), imaging.RawImage{Data: []byte("img"), ContentType: "image/jpeg"}, nil)
		})

		When("every stage succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should pass the normalized image to OCR", func() {
				Expect(recognizer.got).NotTo(BeNil())
				Expect(recognizer.got.ContentType).To(Equal("image/png"))
			})

			It("should extract the fields", func() {
				Expect(result.Fields.Amount.Decimal.StringFixed(2)).To(Equal("349.00"))
				Expect(result.Fields.Merchant).To(Equal("SWIGGY"))
				Expect(result.Fields.Date).NotTo(BeNil())
			})

			It("should categorize by merchant", func() {
				Expect(result.Category).To(Equal(category.Food))
			})

			It("should count an ok scan", func() {
				expectScans(metrics.OutcomeOK)
			})
		})

		When("the image cannot be decoded", func() {
			BeforeEach(func() {
				normalizer.err = fmt.Errorf("%w: bad bytes", imaging.ErrDecode)
			})

			It("returns ErrDecode", func() {
				Expect(err).To(MatchError(imaging.ErrDecode))
				Expect(result).To(BeNil())
			})

			It("should not run OCR", func() {
				Expect(recognizer.calls).To(Equal(0))
			})

			It("should count a decode error", func() {
				expectScans(metrics.OutcomeDecodeError)
			})
		})

		When("OCR is busy", func() {
			BeforeEach(func() {
				recognizer.err = ocr.ErrBusy
			})

			It("returns ErrBusy", func() {
				Expect(err).To(MatchError(ocr.ErrBusy))
			})

			It("should count a busy rejection", func() {
				expectScans(metrics.OutcomeBusy)
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				recognizer.err = fmt.Errorf("%w: engine crashed", ocr.ErrOCRFailed)
			})

			It("returns ErrOCRFailed", func() {
				Expect(err).To(MatchError(ocr.ErrOCRFailed))
				Expect(result).To(BeNil())
			})
		})

		When("the text has no amount", func() {
			BeforeEach(func() {
				recognizer.text = "THANK YOU\nVISIT AGAIN"
			})

			It("returns the result with ErrNoAmountFound", func() {
				Expect(err).To(MatchError(ErrNoAmountFound))
				Expect(result).NotTo(BeNil())
				Expect(result.Fields.Merchant).To(Equal("THANK YOU"))
				Expect(result.Category).To(Equal(category.Other))
			})

			It("should count a no amount scan", func() {
				expectScans(metrics.OutcomeNoAmount)
			})
		})
	})

	Describe("Analyze", func() {
		It("should not touch the image stages", func() {
			_, err := pipeline.Analyze("Uber trip\nTotal: 210.00")
			Expect(err).NotTo(HaveOccurred())
			Expect(normalizer.calls).To(Equal(0))
			Expect(recognizer.calls).To(Equal(0))
		})

		It("should use the note when there is no merchant", func() {
			result, err := pipeline.Analyze("")
			Expect(errors.Is(err, ErrNoAmountFound)).To(BeTrue())
			Expect(result.Category).To(Equal(category.Other))
		})

		It("should use a custom categorizer", func() {
			custom := category.New([]category.Rule{{Category: category.Health, Keywords: []string{"apollo"}}})
			p := NewPipeline(normalizer, recognizer, custom, nil)
			result, err := p.Analyze("Apollo\nTotal: 80.00")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Category).To(Equal(category.Health))
		})
	})
})
