// Package registry はジョブ種別からキュー・並列度クラス・ハンドラへの静的な対応表を提供します。
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/docforge/internal/models"
)

var (
	// ErrUnknownJobType は登録されていないジョブ種別を表します。
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrInputCount は入力ファイル数が種別の要件を満たさないことを表します。
	ErrInputCount = errors.New("invalid number of input files")
)

// Class は並列度クラスです。
type Class string

const (
	ClassFast   Class = "FAST"
	ClassMedium Class = "MEDIUM"
	ClassHeavy  Class = "HEAVY"
)

// Binding は1つのジョブ種別の実行設定です。
type Binding struct {
	Type      models.JobType
	Queue     string
	Class     Class
	Slots     int
	MinInputs int
	// MaxInputs が 0 の場合は上限なし
	MaxInputs int
	MaxRetry  int
	Timeout   time.Duration
	Handler   HandlerFunc
}

// Options は起動時に設定から与えるスロット数などです。
type Options struct {
	FastSlots   int
	MediumSlots int
	HeavySlots  int
	VideoSlots  int
	MaxRetry    int
	Timeouts    map[Class]time.Duration
}

// DefaultOptions は既定値を返します。
func DefaultOptions() Options {
	return Options{
		FastSlots:   10,
		MediumSlots: 5,
		HeavySlots:  2,
		VideoSlots:  1,
		MaxRetry:    3,
		Timeouts: map[Class]time.Duration{
			ClassFast:   2 * time.Minute,
			ClassMedium: 5 * time.Minute,
			ClassHeavy:  15 * time.Minute,
		},
	}
}

type entry struct {
	typ       models.JobType
	queue     string
	class     Class
	minInputs int
	maxInputs int
}

var table = []entry{
	{models.JobTypeRotate, "pdf-rotate", ClassFast, 1, 1},
	{models.JobTypeProtect, "pdf-protect", ClassFast, 1, 1},
	{models.JobTypeUnlock, "pdf-unlock", ClassFast, 1, 1},
	{models.JobTypeSign, "pdf-sign", ClassFast, 1, 1},
	{models.JobTypeReorder, "pdf-reorder", ClassFast, 1, 1},
	{models.JobTypeMerge, "pdf-merge", ClassMedium, 2, 0},
	{models.JobTypeSplit, "pdf-split", ClassMedium, 1, 1},
	{models.JobTypeWatermark, "pdf-watermark", ClassMedium, 1, 2},
	{models.JobTypeCompress, "pdf-compress", ClassHeavy, 1, 0},
	{models.JobTypeOCR, "pdf-ocr", ClassHeavy, 1, 1},
	{models.JobTypePDFToWord, "pdf-to-word", ClassHeavy, 1, 1},
	{models.JobTypeWordToPDF, "word-to-pdf", ClassHeavy, 1, 1},
	{models.JobTypePDFToImage, "pdf-to-image", ClassHeavy, 1, 1},
	{models.JobTypeVideoResize, "video-resize", ClassHeavy, 1, 1},
}

// Registry はジョブ種別ごとの Binding を保持します。
type Registry struct {
	mu       sync.RWMutex
	bindings map[models.JobType]*Binding
}

// New は静的テーブルから Registry を構築します。ハンドラは Register で後から登録します。
func New(opts Options) *Registry {
	def := DefaultOptions()
	if opts.FastSlots <= 0 {
		opts.FastSlots = def.FastSlots
	}
	if opts.MediumSlots <= 0 {
		opts.MediumSlots = def.MediumSlots
	}
	if opts.HeavySlots <= 0 {
		opts.HeavySlots = def.HeavySlots
	}
	if opts.VideoSlots <= 0 {
		opts.VideoSlots = def.VideoSlots
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = def.MaxRetry
	}
	if opts.Timeouts == nil {
		opts.Timeouts = def.Timeouts
	}

	r := &Registry{bindings: make(map[models.JobType]*Binding, len(table))}
	for _, e := range table {
		slots := opts.FastSlots
		switch e.class {
		case ClassMedium:
			slots = opts.MediumSlots
		case ClassHeavy:
			slots = opts.HeavySlots
		}
		if e.typ == models.JobTypeVideoResize {
			slots = opts.VideoSlots
		}
		timeout := opts.Timeouts[e.class]
		if timeout <= 0 {
			timeout = def.Timeouts[e.class]
		}
		r.bindings[e.typ] = &Binding{
			Type:      e.typ,
			Queue:     e.queue,
			Class:     e.class,
			Slots:     slots,
			MinInputs: e.minInputs,
			MaxInputs: e.maxInputs,
			MaxRetry:  opts.MaxRetry,
			Timeout:   timeout,
		}
	}
	return r
}

// Resolve はジョブ種別の Binding を返します。
func (r *Registry) Resolve(t models.JobType) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[t]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrUnknownJobType, t)
	}
	return *b, nil
}

// Register はジョブ種別にハンドラを登録します。
func (r *Registry) Register(t models.JobType, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[t]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, t)
	}
	b.Handler = h
	return nil
}

// Bindings は全 Binding をキュー名順で返します。
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// ByClass は指定クラスの Binding を返します。
func (r *Registry) ByClass(classes ...Class) []Binding {
	want := make(map[Class]struct{}, len(classes))
	for _, c := range classes {
		want[c] = struct{}{}
	}
	var out []Binding
	for _, b := range r.Bindings() {
		if _, ok := want[b.Class]; ok {
			out = append(out, b)
		}
	}
	return out
}

// ValidateInputs は入力ファイル数が種別の要件を満たすか検証します。
func (r *Registry) ValidateInputs(t models.JobType, n int) error {
	b, err := r.Resolve(t)
	if err != nil {
		return err
	}
	if n < b.MinInputs {
		return fmt.Errorf("%w: %s requires at least %d file(s), got %d", ErrInputCount, t, b.MinInputs, n)
	}
	if b.MaxInputs > 0 && n > b.MaxInputs {
		return fmt.Errorf("%w: %s accepts at most %d file(s), got %d", ErrInputCount, t, b.MaxInputs, n)
	}
	return nil
}

// ParseClasses は WORKER_TYPE の値 (FAST, MEDIUM, HEAVY, ALL, カンマ区切り可) を解釈します。
func ParseClasses(workerType string) ([]Class, error) {
	workerType = strings.ToUpper(strings.TrimSpace(workerType))
	if workerType == "" || workerType == "ALL" {
		return []Class{ClassFast, ClassMedium, ClassHeavy}, nil
	}
	var out []Class
	for _, part := range strings.Split(workerType, ",") {
		switch c := Class(strings.TrimSpace(part)); c {
		case ClassFast, ClassMedium, ClassHeavy:
			out = append(out, c)
		default:
			return nil, fmt.Errorf("unknown worker type %q", part)
		}
	}
	return out, nil
}
