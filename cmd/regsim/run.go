package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hootrhino/regsim"
	"github.com/rs/zerolog"
)

// simulatedSlave is what the inspect API needs from either slave.
type simulatedSlave interface {
	Registers(fn func(*regsim.RegisterMap))
	Snapshot() []uint16
	SetFault(regsim.FaultMode)
	Fault() regsim.FaultMode
	Stats() regsim.SlaveStats
	ResetStats()
}

// app holds the role engine the process is running.
type app struct {
	cfg    Config
	logger zerolog.Logger
	events *regsim.EventStream
	slave  simulatedSlave
	sender regsim.Sender
}

func run(ctx context.Context, cfg Config) error {
	logger, err := regsim.NewLogger(os.Stdout, cfg.Log, "regsim."+cfg.Role)
	if err != nil {
		return err
	}
	regsim.RegisterMetrics()

	a := &app{cfg: cfg, logger: logger, events: regsim.NewEventStream(256)}
	a.events.SetOnEvent(a.logEvent)
	a.events.Start()
	defer a.events.Stop()

	switch cfg.Role {
	case roleDevice:
		return a.runDevice(ctx)
	case roleHost:
		return a.runHost(ctx)
	case roleSlave:
		return a.runSlave(ctx)
	case roleMaster:
		return a.runMaster(ctx)
	}
	return fmt.Errorf("unknown role %q", cfg.Role)
}

func (a *app) newRegisters() (*regsim.RegisterMap, error) {
	regs := regsim.NewRegisterMap(a.cfg.registerCount())
	pattern, err := regsim.ParsePattern(a.cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if pattern != nil {
		pattern(regs)
	}
	if a.cfg.RegistersCSV != "" {
		f, err := os.Open(a.cfg.RegistersCSV)
		if err != nil {
			return nil, fmt.Errorf("registers.csv: %w", err)
		}
		defer f.Close()
		if err := regsim.LoadRegisterCSV(regs, f); err != nil {
			return nil, fmt.Errorf("registers.csv: %w", err)
		}
	}
	return regs, nil
}

func (a *app) runDevice(ctx context.Context) error {
	regs, err := a.newRegisters()
	if err != nil {
		return err
	}
	fault, err := regsim.ParseFaultMode(a.cfg.Fault)
	if err != nil {
		return err
	}
	slave := regsim.NewPacketSlave(a.cfg.Address, regs)
	slave.SetFault(fault)
	slave.SetEventSink(a.events.Push)
	a.slave = slave

	port, err := a.openSerial()
	if err != nil {
		return err
	}
	device := regsim.NewPacketDevice(port, slave, a.cfg.sessionConfig())
	device.SetLogger(a.logger)
	defer device.Close()

	stopHTTP := a.serveHTTP()
	defer stopHTTP()
	return device.Run(ctx)
}

func (a *app) runHost(ctx context.Context) error {
	master := regsim.NewPacketMaster(a.cfg.Address, a.cfg.Timeout)
	master.SetEventSink(a.events.Push)

	port, err := a.openSerial()
	if err != nil {
		return err
	}
	host := regsim.NewPacketHost(port, master, a.cfg.sessionConfig())
	host.SetLogger(a.logger)
	defer host.Close()
	a.sender = host

	stopHTTP := a.serveHTTP()
	defer stopHTTP()
	stopPoll := a.startPoller(host)
	defer stopPoll()
	return host.Run(ctx)
}

func (a *app) runSlave(ctx context.Context) error {
	regs, err := a.newRegisters()
	if err != nil {
		return err
	}
	fault, err := regsim.ParseFaultMode(a.cfg.Fault)
	if err != nil {
		return err
	}
	slave := regsim.NewModbusSlave(regs)
	slave.SetFault(fault)
	slave.SetEventSink(a.events.Push)
	a.slave = slave

	server := regsim.NewModbusServer(slave, a.cfg.sessionConfig())
	server.SetLogger(a.logger)

	stopHTTP := a.serveHTTP()
	defer stopHTTP()
	return server.ListenAndServe(ctx, a.cfg.tcpAddr())
}

func (a *app) runMaster(ctx context.Context) error {
	master := regsim.NewModbusMaster(a.cfg.UnitID, a.cfg.Timeout)
	master.SetEventSink(a.events.Push)

	client, err := regsim.DialModbus(ctx, a.cfg.tcpAddr(), master, a.cfg.sessionConfig())
	if err != nil {
		return err
	}
	client.SetLogger(a.logger)
	defer client.Close()
	a.sender = client

	stopHTTP := a.serveHTTP()
	defer stopHTTP()
	stopPoll := a.startPoller(client)
	defer stopPoll()
	return client.Run(ctx)
}

func (a *app) openSerial() (io.ReadWriteCloser, error) {
	cfg := a.cfg.Serial
	cfg.Timeout = a.cfg.PollInterval
	port, err := regsim.OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("port", cfg.Address).Int("baud", cfg.BaudRate).Msg("serial port open")
	return port, nil
}

func (a *app) startPoller(sender regsim.Sender) func() {
	ops, err := a.cfg.pollOperations()
	if err != nil || len(ops) == 0 {
		return func() {}
	}
	poller := regsim.NewPoller(sender, a.cfg.PollEvery, ops...)
	poller.SetOnError(func(op regsim.Operation, err error) {
		a.logger.Error().Str("operation", op.String()).Err(err).Msg("poll send failed")
	})
	poller.Start()
	return poller.Stop
}

func (a *app) serveHTTP() func() {
	if a.cfg.HTTPAddr == "" {
		return func() {}
	}
	srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: newRouter(a), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("inspect api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("inspect api stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// logEvent renders engine events as log lines.
func (a *app) logEvent(e regsim.Event) {
	ev := a.logger.Info()
	switch e.Kind {
	case regsim.EventTimedOut, regsim.EventDisconnected:
		ev = a.logger.Warn()
	case regsim.EventAddressFiltered, regsim.EventUnmatched:
		ev = a.logger.Debug()
	}
	ev = ev.Str("event", e.Kind.String()).Uint16("id", e.ID)
	if e.Operation.Kind != 0 {
		ev = ev.Str("operation", e.Operation.String())
	}
	if e.Elapsed > 0 {
		ev = ev.Dur("elapsed", e.Elapsed)
	}
	if e.Remote != "" {
		ev = ev.Str("remote", e.Remote)
	}
	if e.Kind == regsim.EventMatched {
		if e.Reply.Err != nil {
			ev = ev.AnErr("reply", e.Reply.Err)
		} else {
			ev = ev.Uints16("values", e.Reply.Values).Int("count", e.Reply.Count)
		}
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg("event")
}
