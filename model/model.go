// Package model - Parameterbäume, Gewichtsquellen und Preset-Registry
//
// Dieses Paket verbindet konstruierte Modell-Topologien mit Gewichten.
//
// Hauptkomponenten:
// - WeightSource: Quelle benannter Tensoren (safetensors, Tests)
// - Shaper/Updater/Initializer/Validator: optionale Modul-Hooks
// - Register/New/Presets: Registry benannter Modell-Presets

package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/moshigo/moshi/ml"
)

// Fehler-Definitionen
var (
	ErrMissingTensor    = errors.New("missing tensor")
	ErrUnexpectedTensor = errors.New("unexpected tensor")
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
	ErrUnsupportedModel = errors.New("model not supported")
)

// WeightSource liefert benannte Tensoren. Get muss nebenläufig aufrufbar sein.
type WeightSource interface {
	Keys() []string
	Get(ctx ml.Context, name string) (ml.Tensor, error)
}

// MapSource ist eine WeightSource im Speicher
type MapSource map[string]ml.Tensor

func (m MapSource) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

func (m MapSource) Get(_ ml.Context, name string) (ml.Tensor, error) {
	t, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}
	return t, nil
}

// Shaper meldet die erwartete Form jedes Tensor-Felds, geschlüsselt nach
// Tag-Namen. Tensor-Felder ohne Eintrag müssen in der Quelle fehlen.
type Shaper interface {
	Shapes() map[string][]int
}

// Updater wird nach dem Laden aufgerufen, Kinder vor Eltern, um abgeleitete
// Tensoren zu berechnen.
type Updater interface {
	Update(ctx ml.Context) error
}

// Initializer korrigiert zufällig initialisierte Parameter, deren Wertebereich
// eingeschränkt ist.
type Initializer interface {
	InitParams(ctx ml.Context)
}

// Validator ist ein optionales Interface für Post-Load-Validierung
type Validator interface {
	Validate() error
}

// Model ist die Wurzel eines Parameterbaums
type Model interface {
	// Kind nennt die Architektur, z.B. "lm" oder "mimi"
	Kind() string
}

// models speichert registrierte Modell-Konstruktoren
var models = make(map[string]func() (Model, error))

// Register registriert einen Modell-Konstruktor für einen Preset-Namen
func Register(name string, f func() (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// New konstruiert die Topologie eines registrierten Presets ohne Gewichte
func New(name string) (Model, error) {
	f, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, name)
	}
	return f()
}

// Presets listet alle registrierten Preset-Namen sortiert
func Presets() []string {
	return slices.Sorted(maps.Keys(models))
}
