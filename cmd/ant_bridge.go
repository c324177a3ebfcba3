package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/bridge"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/config"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/dongle"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/ftms"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/logging"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/trainer"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/usbant"
)

const emulatedChannels = 8

func main() {
	cfg, err := config.Load(filepath.Base(os.Args[0]), os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, logFile, err := logging.New(cfg.Log)
	must("open log file", err)

	err = run(cfg, logger)
	if err != nil {
		logger.Printf("ant-bridge: %v", err)
		fmt.Fprintln(os.Stderr, err)
	}
	logFile.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.BLEClient.Enabled:
		return runBLEClient(ctx, cfg, logger)
	case cfg.Scan.Enabled:
		return runExplore(ctx, cfg, logger)
	}

	finder, closeFinder := newFinder(cfg, logger)
	defer closeFinder()

	manager := dongle.NewManager(logger, finder, cfg.DongleOptions())
	if err := manager.Open(); err != nil {
		return fmt.Errorf("no ANT dongle: %w", err)
	}
	logger.Printf("ant-bridge: dongle %s, %d channels", manager.Version(), manager.Capabilities().MaxChannels)

	source, sink := newTrainer(cfg, logger)
	session := trainer.NewSession(logger, manager, source, sink, cfg.ANT.TickInterval)
	addProfiles(cfg, logger, session)

	if cfg.BLE.Enabled {
		controller := ftms.NewController(logger, ftms.DefaultPowerRange())
		btManager := bt.NewBTManager(bluetooth.DefaultAdapter, logger, cfg.BLE.LocalName, controller)
		must("enable BLE stack", btManager.Enable())
		defer btManager.Shutdown()

		connected := make(chan int, 4)
		defer btManager.ListenToConnectedCount(connected)()
		go_func_utils.SafeGo(logger, func() {
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-connected:
					logger.Printf("ant-bridge: %d BLE centrals connected", n)
				}
			}
		})

		session.SetBLE(btManager)
		session.AddTargets(controller.Targets())
	}

	if err := session.Start(); err != nil {
		return errors.Join(err, manager.Release())
	}
	runErr := session.Run(ctx)
	return errors.Join(runErr, session.Close())
}

// runExplore lists the ANT masters around until the scan duration elapses
func runExplore(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	finder, closeFinder := newFinder(cfg, logger)
	defer closeFinder()

	manager := dongle.NewManager(logger, finder, cfg.DongleOptions())
	if err := manager.Open(); err != nil {
		return fmt.Errorf("no ANT dongle: %w", err)
	}

	explorer := trainer.NewExplorer(logger, manager)
	for _, c := range antdev.ExploreConfigs() {
		explorer.AddChannel(c)
	}
	if cfg.Scan.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Scan.Duration)
		defer cancel()
	}

	found := make(chan trainer.Discovery, 16)
	defer explorer.Found().Listen(found)()
	go_func_utils.SafeGo(logger, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-found:
				fmt.Println(d)
			}
		}
	})

	fmt.Println("scanning, press Ctrl+C to stop")
	runErr := explorer.Run(ctx)
	fmt.Printf("%d devices found\n", len(explorer.Discoveries()))
	return errors.Join(runErr, manager.Release())
}

// runBLEClient drives the selected FTMS server through the default program
func runBLEClient(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}

	candidates, err := bt.ScanFTMS(adapter, logger, cfg.BLEClient.ScanTimeout)
	if err != nil {
		return err
	}
	candidate, err := bt.SelectCandidate(candidates, cfg.BLEClient.Address)
	if err != nil {
		return err
	}
	device, err := bt.Connect(adapter, logger, candidate)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Disconnect(); err != nil {
			logger.Printf("ant-bridge: disconnect %s: %v", candidate.Address, err)
		}
	}()

	client := bt.NewFTMSClient(logger, device, cfg.BLEClient.ResponseTimeout, cfg.BLEClient.StepInterval)
	bikeData := make(chan ftms.IndoorBikeData, 1)
	defer client.ListenToIndoorBikeData(bikeData)()
	go_func_utils.SafeGo(logger, func() {
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-bikeData:
				if time.Since(last) < time.Second {
					continue
				}
				last = time.Now()
				fmt.Printf("%.1f km/h %.0f rpm %d W, heart rate %d\n",
					d.InstantaneousSpeedKmh, d.InstantaneousCadenceRpm, d.InstantaneousPowerWatts, client.HeartRate())
			}
		}
	})

	return client.Run(ctx, bt.DefaultProgram())
}

func newFinder(cfg config.Config, logger *log.Logger) (dongle.Finder, func()) {
	if cfg.Dongle.Emulate {
		logger.Printf("ant-bridge: using the dongle emulator")
		emu := dongle.NewEmulator("ant-bridge emulator", emulatedChannels, cfg.Dongle.ReadTimeout)
		products := make(map[uint16][]*dongle.Emulator)
		for _, id := range cfg.DongleOptions().ProductIDs {
			products[id] = []*dongle.Emulator{emu}
		}
		return &dongle.EmulatorFinder{Products: products}, func() {}
	}
	f := usbant.NewFinder(logger, cfg.Dongle.ReadTimeout)
	return f, func() {
		if err := f.Close(); err != nil {
			logger.Printf("ant-bridge: close USB: %v", err)
		}
	}
}

func newTrainer(cfg config.Config, logger *log.Logger) (trainer.TelemetrySource, trainer.TargetSink) {
	if cfg.Simulate {
		t := trainer.NewSimulatedTrainer(logger)
		return t, t
	}
	t := trainer.NewIdleTrainer(logger)
	return t, t
}

func addProfiles(cfg config.Config, logger *log.Logger, session *trainer.Session) {
	p := cfg.Profiles
	if p.FE {
		fe := antdev.NewFitnessEquipment(logger, antdev.FEConfig(true, cfg.FE.DeviceNumber), cfg.FEOptions())
		session.AddProfile(fe)
		session.AddTargets(fe.Targets())
	}
	if p.HRM {
		hrm := antdev.NewHeartRateMonitor(logger, antdev.HRMConfig(!cfg.HRM.Slave, cfg.HRM.DeviceNumber))
		session.AddProfile(hrm)
		if cfg.HRM.Slave {
			session.AddHeartRates(hrm.HeartRateEvents())
		}
	}
	if p.PWR {
		session.AddProfile(antdev.NewPower(logger, antdev.PWRConfig(true, cfg.PWR.DeviceNumber)))
	}
	if p.SCS {
		session.AddProfile(antdev.NewSpeedCadence(logger, antdev.SCSConfig(true, cfg.SCS.DeviceNumber)))
	}
	if p.CTRL {
		ctrl := antdev.NewControl(logger, antdev.CTRLConfig(true, cfg.CTRL.DeviceNumber))
		ctrl.Commands().Listen(func(e antdev.ControlEntry) {
			logger.Printf("ant-bridge: remote command %s from %d", e.Command, e.SerialNumber)
		})
		session.AddProfile(ctrl)
	}
	if cfg.Bridge.Enabled {
		brake := antdev.NewGeneric(logger, antdev.BushidoBrakeConfig(false, cfg.Bridge.DeviceNumber))
		headUnit := antdev.NewGeneric(logger, antdev.BushidoHeadUnitConfig(true, cfg.Bridge.DeviceNumber))
		b := bridge.New(logger, brake, headUnit)
		session.AddProfile(b.Slave())
		session.AddProfile(b.Master())
	}
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
