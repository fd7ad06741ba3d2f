// Package model - Reflection-basierte Tensor-Population
//
// Dieses Modul enthält die Reflection-Logik zum Befüllen von Modell-Strukturen
// mit Tensoren aus einer WeightSource.
//
// Hauptkomponenten:
// - Populate: Befüllt alle `tensor`-Felder, meldet fehlende/überzählige Tensoren
// - Randomize: Befüllt alle Parameter deterministisch zufällig (Tests, Benchmarks)
// - Inventory: Listet erwartete Tensor-Namen und Formen
// - Tag: Tensor-Tag-Struktur für Tensor-Namen
// - parseTag: Parst Tensor-Tags aus Struct-Tags

package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
)

// Tag repräsentiert einen geparsten Tensor-Tag
type Tag struct {
	name         string
	alternatives []string
}

// parseTag parst einen Tensor-Tag-String in eine Tag-Struktur
func parseTag(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	if len(parts) > 0 {
		tag.name = parts[0]

		for _, part := range parts[1:] {
			if value, ok := strings.CutPrefix(part, "alt:"); ok && tag.name == "" {
				// Alternative zum Primärnamen erheben wenn kein Primärname
				tag.name = value
				slog.Warn("tensor tag has alt: but no primary name", "tag", s)
			} else if ok {
				tag.alternatives = append(tag.alternatives, value)
			}
		}
	}

	return
}

var tensorType = reflect.TypeOf((*ml.Tensor)(nil)).Elem()

// slot ist ein einzelnes Tensor-Feld im Parameterbaum
type slot struct {
	names []string
	shape []int // nil wenn das Modul keine Formen meldet
	value reflect.Value
}

// walker sammelt Tensor-Felder und Module in Post-Order
type walker struct {
	slots   []slot
	modules []reflect.Value
}

// walk besucht v; paths enthält alle alternativen Namenspfade bis hierher
func (w *walker) walk(v reflect.Value, paths [][]string) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		w.walk(v.Elem(), paths)
		if v.Kind() == reflect.Pointer {
			w.modules = append(w.modules, v)
		}
		return
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			w.walk(v.Index(i), extend(paths, Tag{name: strconv.Itoa(i)}))
		}
		return
	case reflect.Struct:
	default:
		return
	}

	var shapes map[string][]int
	if v.CanAddr() {
		if s, ok := v.Addr().Interface().(Shaper); ok {
			shapes = s.Shapes()
		}
	}

	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		vv := v.Field(i)
		if !vv.CanSet() {
			continue
		}

		raw, ok := f.Tag.Lookup("tensor")
		if !ok && !f.Anonymous {
			continue
		}
		tag := parseTag(raw)
		fieldPaths := extend(paths, tag)

		if f.Type == tensorType {
			// Felder ohne Form sind in dieser Konfiguration ausgeschlossen
			var shape []int
			if shapes != nil {
				var want bool
				if shape, want = shapes[tag.name]; !want {
					continue
				}
			}

			names := make([]string, len(fieldPaths))
			for j, p := range fieldPaths {
				names[j] = strings.Join(p, ".")
			}
			w.slots = append(w.slots, slot{names: names, shape: shape, value: vv})
			continue
		}

		w.walk(vv, fieldPaths)
	}
}

// extend hängt den Namen und jede Alternative von tag an jeden Pfad an
func extend(paths [][]string, tag Tag) [][]string {
	if tag.name == "" {
		return paths
	}

	var out [][]string
	for _, p := range paths {
		for _, n := range append([]string{tag.name}, tag.alternatives...) {
			out = append(out, append(slices.Clip(p), n))
		}
	}
	return out
}

func collect(root any) (*walker, error) {
	v := reflect.ValueOf(root)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("model: populate needs a non-nil pointer, got %T", root)
	}

	var w walker
	w.walk(v, [][]string{nil})
	return &w, nil
}

// Populate fills every `tensor` field reachable from root with the tensor of
// the same dotted name in src. Submodules left nil by their constructor are
// skipped. Every required tensor must be present with the shape its module
// reports and every tensor in src must be consumed; all violations are
// reported together. Afterwards Updater and Validator hooks run.
func Populate(ctx ml.Context, src WeightSource, root any) error {
	w, err := collect(root)
	if err != nil {
		return err
	}

	available := make(map[string]bool)
	for _, k := range src.Keys() {
		available[k] = false
	}

	var errs []error
	found := make([]string, len(w.slots))
	for i, s := range w.slots {
		for _, name := range s.names {
			if _, ok := available[name]; ok {
				found[i] = name
				available[name] = true
				break
			}
		}
		if found[i] == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTensor, s.names[0]))
		}
	}

	for _, k := range src.Keys() {
		if !available[k] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnexpectedTensor, k))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	tensors := make([]ml.Tensor, len(w.slots))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, s := range w.slots {
		g.Go(func() error {
			t, err := src.Get(ctx, found[i])
			if err != nil {
				return fmt.Errorf("%s: %w", found[i], err)
			}
			if s.shape != nil && !slices.Equal(t.Shape(), s.shape) {
				return fmt.Errorf("%w: %s has shape %v, want %v", ErrShapeMismatch, found[i], t.Shape(), s.shape)
			}
			tensors[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, s := range w.slots {
		logutil.Trace("found tensor", "name", found[i], "shape", tensors[i].Shape())
		s.value.Set(reflect.ValueOf(tensors[i]))
	}

	return finish(ctx, w, root)
}

// Randomize fills every parameter reachable from root with deterministic
// uniform values in [-scale, scale]. Modules must report their shapes.
func Randomize(ctx ml.Context, root any, seed uint64, scale float32) error {
	w, err := collect(root)
	if err != nil {
		return err
	}

	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, s := range w.slots {
		if s.shape == nil {
			return fmt.Errorf("model: %s has no known shape", s.names[0])
		}

		n := 1
		for _, d := range s.shape {
			n *= d
		}
		data := make([]float32, n)
		for j := range data {
			data[j] = (2*r.Float32() - 1) * scale
		}
		s.value.Set(reflect.ValueOf(ctx.FromFloats(data, s.shape...)))
	}

	for _, m := range w.modules {
		if in, ok := m.Interface().(Initializer); ok {
			in.InitParams(ctx)
		}
	}

	return finish(ctx, w, root)
}

// finish runs Updater hooks bottom-up, then validates the root.
func finish(ctx ml.Context, w *walker, root any) error {
	for _, m := range w.modules {
		if u, ok := m.Interface().(Updater); ok {
			if err := u.Update(ctx); err != nil {
				return err
			}
		}
	}

	return Validate(root)
}

// Validate runs the root's Validator hook, if any.
func Validate(root any) error {
	if validator, ok := root.(Validator); ok {
		return validator.Validate()
	}
	return nil
}

// TensorInfo describes one parameter expected by a model.
type TensorInfo struct {
	Name  string
	Shape []int
}

// Inventory lists every parameter root expects, in declaration order.
func Inventory(root any) ([]TensorInfo, error) {
	w, err := collect(root)
	if err != nil {
		return nil, err
	}

	infos := make([]TensorInfo, 0, len(w.slots))
	for _, s := range w.slots {
		infos = append(infos, TensorInfo{Name: s.names[0], Shape: s.shape})
	}
	return infos, nil
}
