// config_features.go - Modell- und Laufzeit-Variablen
//
// Dieses Modul enthaelt:
// - LMConfig: Preset-Name des Sprachmodells (MOSHI_LM_CONFIG)
// - NumCodebooks: Anzahl Mimi-Codebooks (MOSHI_NUM_CODEBOOKS)
// - NumThreads: Threads des CPU-Backends (MOSHI_NUM_THREADS)
// - Temperature: Sampling-Temperatur (MOSHI_TEMPERATURE)
// - MaxSteps: Obergrenze fuer Generierungsschritte (MOSHI_MAX_STEPS)
// - QueueWarn: Warnschwelle fuer die Chunk-Queue (MOSHI_QUEUE_WARN)
package envconfig

import "runtime"

var (
	// LMConfig waehlt das lm-Preset. Default: asr1b
	LMConfig = StringWithDefault("MOSHI_LM_CONFIG", "asr1b")
	// NumCodebooks setzt die Codebooks des Codecs. Default: 32
	NumCodebooks = Uint("MOSHI_NUM_CODEBOOKS", 32)
	// NumThreads begrenzt die Worker des CPU-Backends. Default: Anzahl CPUs
	NumThreads = Uint("MOSHI_NUM_THREADS", uint(runtime.NumCPU()))
	// Temperature fuer Text-Sampling. Default: 0 (greedy)
	Temperature = Float("MOSHI_TEMPERATURE", 0)
	// MaxSteps setzt das Modell einer Session nach so vielen Schritten
	// zurueck. Default: 0 (nie)
	MaxSteps = Uint("MOSHI_MAX_STEPS", 0)
	// QueueWarn loggt eine Warnung, sobald mehr Chunks warten. 0 = nie
	QueueWarn = Uint("MOSHI_QUEUE_WARN", 64)
)
