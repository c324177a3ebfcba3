package trainer

import (
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

// IdleTrainer reports a trainer standing still. It is the telemetry source
// when nothing is simulated, for instance when the session only bridges
// channels. Targets are logged, a strap heart rate is passed through.
type IdleTrainer struct {
	logger *log.Logger

	mu        sync.Mutex
	heartRate int
	target    antdev.Target
}

func NewIdleTrainer(logger *log.Logger) *IdleTrainer {
	if logger == nil {
		panic("IdleTrainer: logger cannot be nil")
	}
	return &IdleTrainer{logger: logger, target: antdev.DefaultTarget()}
}

func (i *IdleTrainer) ApplyTarget(t antdev.Target) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.target = t
	i.logger.Printf("IdleTrainer: target %s ignored", t.Mode)
}

func (i *IdleTrainer) Target() antdev.Target {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.target
}

func (i *IdleTrainer) SetHeartRate(bpm int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.heartRate = bpm
}

func (i *IdleTrainer) Telemetry() antdev.Telemetry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return antdev.Telemetry{HeartRate: i.heartRate}
}
