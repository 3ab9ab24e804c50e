// busdemo exercises the full bus stack in one process: handshake, record
// pipelines over an in-process transport pair, a channel loop with token
// authorization, and the hardware queue. It stands in for the embedding
// firmware during development.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"securebus/busclock"
	"securebus/buslog"
	"securebus/config"
	"securebus/hardware"
	"securebus/loops"
	"securebus/orchestrator"
	"securebus/record"
	"securebus/token"
	"securebus/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := buslog.New(buslog.Config{
		ServiceName: cfg.ServiceName,
		Embedded:    cfg.Embedded,
		Development: cfg.Development,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		log.Fatalf("demo: %v", err)
	}
	fmt.Println("demo completed")
}

func run(cfg *config.Config, logger *buslog.Logger) error {
	clock := busclock.Wall()

	reg, err := orchestrator.NewRegistry(cfg.MasterKey, clock, logger)
	if err != nil {
		return err
	}

	// Session establishment against an in-process peer.
	orch, err := orchestrator.New(cfg.MasterKey, &orchestrator.LoopbackResponder{
		CertChain: [][]byte{[]byte("busdemo-pinned-cert")},
	}, reg)
	if err != nil {
		return err
	}
	if err := orch.PerformHandshake(); err != nil {
		return err
	}
	fmt.Printf("session %s: %s\n", orch.SessionID(), orch.State())

	// Record pipelines over a transport pair.
	local, remote := transport.Pair()
	out := record.NewOutboundWithConfig(cfg.MasterKey, local, clock, cfg.MaxPayloadSize, cfg.ErrorThreshold)
	in := record.NewInboundWithConfig(cfg.MasterKey, clock, cfg.MaxPayloadSize, cfg.ErrorThreshold)

	if err := out.Send([]byte("thermal status request"), "kernel"); err != nil {
		return err
	}
	frame, ok := remote.Next()
	if !ok {
		return fmt.Errorf("no frame on remote endpoint")
	}
	plaintext, err := in.Receive(frame.Payload, "busdemo")
	if err != nil {
		return err
	}
	fmt.Printf("record round trip: %q\n", plaintext)

	// A kernel loop with token-gated routing.
	sandbox := loops.NewSandboxState()
	sandbox.ActivateAll()
	creds, err := token.NewCredentialIssuer(cfg.MasterKey, clock)
	if err != nil {
		return err
	}
	kernelLoop, err := loops.NewLoop(loops.KernelLoop, sandbox, cfg.MasterKey,
		reg.Tokens, creds, reg.Honeypot,
		[]token.ComponentKind{token.ComponentKernel, token.ComponentDevice}, logger)
	if err != nil {
		return err
	}

	delivered := make(chan loops.Message, 1)
	if err := kernelLoop.RegisterNode("kernel-0", loops.MailboxFunc(func(msg loops.Message) {
		delivered <- msg
	})); err != nil {
		return err
	}

	bearer, err := reg.Tokens.Generate("busdemo", time.Hour)
	if err != nil {
		return err
	}
	if err := kernelLoop.SendMessage("busdemo", "kernel-0", []byte("set governor performance"), bearer); err != nil {
		return err
	}
	msg := <-delivered
	opened, err := kernelLoop.DecryptMessage(msg.Payload)
	if err != nil {
		return err
	}
	fmt.Printf("loop delivery to %s: %q\n", msg.To, opened)

	// Hardware queue round trip.
	queue := hardware.NewMemoryQueue(0)
	reqID, err := queue.Enqueue("get_thermal_status", nil, 5*time.Second)
	if err != nil {
		return err
	}
	req, _ := queue.DequeueRequest()
	_ = queue.CompleteRequest(hardware.Response{RequestID: req.ID, Success: true, Data: 42})
	resp, _ := queue.DequeueResponse()
	fmt.Printf("hardware request %d -> data %d\n", reqID, resp.Data)

	if addr := config.GetEnvOrDefault("SECUREBUS_METRICS_ADDR", ""); addr != "" {
		fmt.Printf("serving metrics on %s\n", addr)
		return http.ListenAndServe(addr, reg.Metrics.Handler())
	}

	orch.Teardown()
	return nil
}
