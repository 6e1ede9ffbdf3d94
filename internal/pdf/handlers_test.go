package pdf

import (
	"context"
	"errors"
	"testing"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

func newTestService() *Service {
	return NewService(Config{}, nil)
}

func TestMergeKeepsInputOrder(t *testing.T) {
	s := newTestService()
	req, progress := newRequest(t, models.JobTypeMerge, "",
		testInput{id: "f1", name: "a.pdf", data: samplePDF(t, 2)},
		testInput{id: "f2", name: "b.pdf", data: samplePDF(t, 3)},
	)

	outputs, err := s.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected one output, got %d", len(outputs))
	}
	if outputs[0].SuggestedName != "merged.pdf" {
		t.Fatalf("unexpected name: %s", outputs[0].SuggestedName)
	}
	if got := outputPages(t, outputs[0]); got != 5 {
		t.Fatalf("merged pages = %d, want 5", got)
	}
	if len(*progress) == 0 {
		t.Fatalf("expected progress to be reported")
	}
}

func TestMergeRequiresTwoInputs(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeMerge, "", testInput{id: "f1", name: "a.pdf", data: samplePDF(t, 1)})

	_, err := s.Merge(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestMergeRejectsCorruptedPDF(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeMerge, "",
		testInput{id: "f1", name: "a.pdf", data: samplePDF(t, 1)},
		testInput{id: "f2", name: "b.pdf", data: []byte("not a pdf")},
	)

	_, err := s.Merge(context.Background(), req)
	if !IsCode(err, CodeUnsupportedPDF) {
		t.Fatalf("expected UNSUPPORTED_PDF, got %v", err)
	}
}

func TestFetchErrorsPassThrough(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeRotate, `{"rotation":90}`, testInput{id: "f1", name: "a.pdf", data: samplePDF(t, 1)})
	fetchErr := errors.New("storage unavailable")
	req.Fetch = func(context.Context, registry.FileDescriptor) ([]byte, error) { return nil, fetchErr }

	_, err := s.Rotate(context.Background(), req)
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	var pdfErr *Error
	if errors.As(err, &pdfErr) {
		t.Fatalf("fetch errors must stay transient, got %v", pdfErr)
	}
}

func TestRotateNamesOutput(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeRotate, `{"rotation":-90,"pageNumbers":[1]}`,
		testInput{id: "f1", name: "report.pdf", data: samplePDF(t, 2)})

	outputs, err := s.Rotate(context.Background(), req)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if outputs[0].SuggestedName != "report_rotated.pdf" {
		t.Fatalf("unexpected name: %s", outputs[0].SuggestedName)
	}
	if outputs[0].MimeType != "application/pdf" {
		t.Fatalf("unexpected mime type: %s", outputs[0].MimeType)
	}
	if got := outputPages(t, outputs[0]); got != 2 {
		t.Fatalf("pages = %d, want 2", got)
	}
}

func TestRotateRejectsPageOutOfRange(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeRotate, `{"rotation":90,"pageNumbers":[3]}`,
		testInput{id: "f1", name: "report.pdf", data: samplePDF(t, 2)})

	_, err := s.Rotate(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestSplitModes(t *testing.T) {
	cases := []struct {
		name   string
		params string
		names  []string
		pages  []int
	}{
		{name: "ranges", params: `{"splitMode":"ranges","ranges":"1-2,3-"}`, names: []string{"part-01.pdf", "part-02.pdf"}, pages: []int{2, 2}},
		{name: "pages", params: `{"splitMode":"pages"}`, names: []string{"part-01.pdf", "part-02.pdf", "part-03.pdf", "part-04.pdf"}, pages: []int{1, 1, 1, 1}},
		{name: "extract", params: `{"splitMode":"extract","pages":[4,1]}`, names: []string{"book_extracted.pdf"}, pages: []int{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService()
			req, _ := newRequest(t, models.JobTypeSplit, tc.params, testInput{id: "f1", name: "book.pdf", data: samplePDF(t, 4)})

			outputs, err := s.Split(context.Background(), req)
			if err != nil {
				t.Fatalf("Split returned error: %v", err)
			}
			if len(outputs) != len(tc.names) {
				t.Fatalf("outputs = %d, want %d", len(outputs), len(tc.names))
			}
			for i, out := range outputs {
				if out.SuggestedName != tc.names[i] {
					t.Fatalf("outputs[%d] = %s, want %s", i, out.SuggestedName, tc.names[i])
				}
				if got := outputPages(t, out); got != tc.pages[i] {
					t.Fatalf("outputs[%d] pages = %d, want %d", i, got, tc.pages[i])
				}
			}
		})
	}
}

func TestSplitExtractOutOfRange(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeSplit, `{"splitMode":"extract","pages":[9]}`, testInput{id: "f1", name: "book.pdf", data: samplePDF(t, 2)})

	_, err := s.Split(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestReorder(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeReorder, `{"order":[3,1,2]}`, testInput{id: "f1", name: "deck.pdf", data: samplePDF(t, 3)})

	outputs, err := s.Reorder(context.Background(), req)
	if err != nil {
		t.Fatalf("Reorder returned error: %v", err)
	}
	if outputs[0].SuggestedName != "deck_reordered.pdf" {
		t.Fatalf("unexpected name: %s", outputs[0].SuggestedName)
	}
	if got := outputPages(t, outputs[0]); got != 3 {
		t.Fatalf("pages = %d, want 3", got)
	}
}

func TestReorderRequiresEveryPage(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeReorder, `{"order":[2,1]}`, testInput{id: "f1", name: "deck.pdf", data: samplePDF(t, 3)})

	_, err := s.Reorder(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestProtectThenUnlock(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeProtect, `{"password":"secret"}`, testInput{id: "f1", name: "contract.pdf", data: samplePDF(t, 2)})

	protected, err := s.Protect(context.Background(), req)
	if err != nil {
		t.Fatalf("Protect returned error: %v", err)
	}
	if protected[0].SuggestedName != "protected_contract.pdf" {
		t.Fatalf("unexpected name: %s", protected[0].SuggestedName)
	}

	wrong, _ := newRequest(t, models.JobTypeUnlock, `{"password":"guess"}`, testInput{id: "f2", name: "protected_contract.pdf", data: protected[0].Data})
	_, err = s.Unlock(context.Background(), wrong)
	var pdfErr *Error
	if !errors.As(err, &pdfErr) || pdfErr.Code != CodeIncorrectPassword {
		t.Fatalf("expected INCORRECT_PASSWORD, got %v", err)
	}
	if pdfErr.Message != "Incorrect password" {
		t.Fatalf("unexpected message: %s", pdfErr.Message)
	}

	right, _ := newRequest(t, models.JobTypeUnlock, `{"password":"secret"}`, testInput{id: "f2", name: "contract.pdf", data: protected[0].Data})
	unlocked, err := s.Unlock(context.Background(), right)
	if err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	if unlocked[0].SuggestedName != "unlocked_contract.pdf" {
		t.Fatalf("unexpected name: %s", unlocked[0].SuggestedName)
	}
	if got := outputPages(t, unlocked[0]); got != 2 {
		t.Fatalf("pages = %d, want 2", got)
	}
}

func TestWatermarkAndSign(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeWatermark, `{"text":"CONFIDENTIAL","position":"top-right"}`, testInput{id: "f1", name: "memo.pdf", data: samplePDF(t, 2)})

	marked, err := s.Watermark(context.Background(), req)
	if err != nil {
		t.Fatalf("Watermark returned error: %v", err)
	}
	if marked[0].SuggestedName != "watermarked_memo.pdf" {
		t.Fatalf("unexpected name: %s", marked[0].SuggestedName)
	}

	signReq, _ := newRequest(t, models.JobTypeSign, `{"text":"A. Reviewer","style":"typewriter"}`, testInput{id: "f2", name: "memo.pdf", data: marked[0].Data})
	signed, err := s.Sign(context.Background(), signReq)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if signed[0].SuggestedName != "signed_memo.pdf" {
		t.Fatalf("unexpected name: %s", signed[0].SuggestedName)
	}
	if got := outputPages(t, signed[0]); got != 2 {
		t.Fatalf("pages = %d, want 2", got)
	}
}

func TestWatermarkInputs(t *testing.T) {
	req := &registry.Request{Inputs: []registry.FileDescriptor{{ID: "logo"}, {ID: "doc"}}}

	doc, mark, err := watermarkInputs(req, &params.Watermark{Type: "image", WatermarkFileID: "logo"})
	if err != nil {
		t.Fatalf("watermarkInputs returned error: %v", err)
	}
	if doc.ID != "doc" || mark.ID != "logo" {
		t.Fatalf("unexpected selection doc=%s mark=%s", doc.ID, mark.ID)
	}

	if _, _, err := watermarkInputs(req, &params.Watermark{Type: "image", WatermarkFileID: "other"}); !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for unknown watermark file, got %v", err)
	}
	if _, _, err := watermarkInputs(req, &params.Watermark{Type: "text"}); !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for two inputs with text watermark, got %v", err)
	}
}

func TestRegisterBindsEveryPDFType(t *testing.T) {
	reg := registry.New(registry.DefaultOptions())
	if err := newTestService().Register(reg); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	for _, b := range reg.Bindings() {
		want := b.Type != models.JobTypeVideoResize
		if got := b.Handler != nil; got != want {
			t.Fatalf("%s handler registered = %v, want %v", b.Type, got, want)
		}
	}
}

func TestUnexpectedParamsArePermanent(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeMerge, "", testInput{id: "f1", name: "a.pdf", data: samplePDF(t, 1)})

	_, err := s.Rotate(context.Background(), req)
	if !registry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
