// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ = Describe("Install", func() {
	var (
		ctx context.Context
		out *gbytes.Buffer
		cfg Config
	)

	records := func() []map[string]any {
		var result []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(string(out.Contents())), "\n") {
			if line == "" {
				continue
			}
			var r map[string]any
			Expect(json.Unmarshal([]byte(line), &r)).To(Succeed())
			result = append(result, r)
		}
		return result
	}

	messages := func() []any {
		var result []any
		for _, r := range records() {
			result = append(result, r[MessageKey])
		}
		return result
	}

	BeforeEach(func() {
		ctx = context.Background()
		out = gbytes.NewBuffer()
		cfg = Config{
			LogLevel:    "info",
			TraceLevel:  "info",
			ServiceName: "lantern-test",
			Output:      zapcore.AddSync(out),
		}

		previous := global
		global = &installer{}
		DeferCleanup(func() {
			global.uninstall()
			global = previous
		})
	})

	It("should publish the reload handle before returning", func() {
		_, ok := GetReloadHandle()
		Expect(ok).To(BeFalse())

		s, err := Install(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		h, ok := GetReloadHandle()
		Expect(ok).To(BeTrue())
		Expect(h).To(BeIdenticalTo(s.ReloadHandle()))

		installed, ok := Installed()
		Expect(ok).To(BeTrue())
		Expect(installed).To(BeIdenticalTo(s))
	})

	It("should suppress debug records until the level is raised", func() {
		Init(ctx, cfg)
		logger := zap.L().Named("lantern")

		logger.Debug("hidden")
		logger.Info("visible")
		Expect(messages()).To(Equal([]any{"visible"}))
		Expect(records()[0][LevelKey]).To(Equal("INFO"))

		Expect(Modify("debug")).To(Succeed())
		logger.Debug("now visible")

		Expect(messages()).To(ContainElement("now visible"))
		Expect(messages()).NotTo(ContainElement("hidden"))
	})

	It("should log level changes", func() {
		Init(ctx, cfg)

		Expect(Modify("info,lantern.proxy=trace")).To(Succeed())
		zap.L().Named("lantern").Debug("dropped")
		zap.L().Named("lantern").Named("proxy").Debug("kept")

		Expect(messages()).To(ContainElements("log level changed", "kept"))
		Expect(messages()).NotTo(ContainElement("dropped"))
	})

	It("should warn about a malformed directive and use the default", func() {
		cfg.LogLevel = "lantern=[request]"
		Init(ctx, cfg)

		h, ok := GetReloadHandle()
		Expect(ok).To(BeTrue())
		Expect(h.Directive()).To(Equal(DefaultDirective))
		Expect(messages()).To(ContainElement("invalid log level directive, using default"))
	})

	It("should panic on the second Init", func() {
		Init(ctx, cfg)
		Expect(func() { Init(ctx, cfg) }).To(PanicWith(MatchError(ErrAlreadyInstalled)))
	})

	It("should refuse a second Install", func() {
		_, err := Install(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		_, err = Install(ctx, cfg)
		Expect(err).To(MatchError(ErrAlreadyInstalled))
	})

	It("should refuse a nil context", func() {
		var noCtx context.Context
		_, err := Install(noCtx, cfg)
		Expect(err).To(MatchError(ErrNoContext))
		Expect(func() { Init(noCtx, cfg) }).To(Panic())

		_, ok := Installed()
		Expect(ok).To(BeFalse())
	})

	It("should report an unavailable reload target before Install", func() {
		Expect(Modify("debug")).To(MatchError(ErrReloadTargetUnavailable))
	})

	It("should let WaitReloadHandle wait for Install", func() {
		result := make(chan *ReloadHandle, 1)
		go func() {
			defer GinkgoRecover()
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			h, err := WaitReloadHandle(waitCtx)
			Expect(err).NotTo(HaveOccurred())
			result <- h
		}()

		Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

		s, err := Install(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Eventually(result).Should(Receive(BeIdenticalTo(s.ReloadHandle())))
	})

	It("should give up waiting when the context ends", func() {
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := WaitReloadHandle(waitCtx)
		Expect(err).To(MatchError(ErrReloadTargetUnavailable))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	It("should install the panic bridge", func() {
		Init(ctx, cfg)
		Expect(panicHook.Load()).NotTo(BeNil())

		_, _, propagated := panicAt("from a worker")
		Expect(propagated).To(Equal("from a worker"))

		var panics []map[string]any
		for _, r := range records() {
			if r[MessageKey] == "panic: from a worker" {
				panics = append(panics, r)
			}
		}
		Expect(panics).To(HaveLen(1))
		Expect(panics[0]).To(HaveKeyWithValue(TargetKey, "panic"))
		Expect(panics[0]).To(HaveKeyWithValue(LevelKey, "ERROR"))
		Expect(panics[0]).To(HaveKey(PanicFileKey))
		Expect(panics[0]).To(HaveKey(PanicLineKey))

		global.uninstall()
		Expect(panicHook.Load()).To(BeNil())
	})

	Context("with tracing", func() {
		var exporter *tracetest.InMemoryExporter

		BeforeEach(func() {
			exporter = tracetest.NewInMemoryExporter()
			cfg.TraceExporter = exporter
		})

		It("should install the trace layer as the global tracer provider", func() {
			s, err := Install(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TracerProvider()).NotTo(BeNil())
			Expect(otel.GetTracerProvider()).To(BeIdenticalTo(s.TracerProvider()))

			_, span := StartSpan(ctx, "lantern", zapcore.InfoLevel, "exported")
			span.End()
			_, dropped := StartSpan(ctx, "lantern", zapcore.DebugLevel, "dropped")
			dropped.End()
			Expect(dropped.SpanContext().IsValid()).To(BeTrue())

			Expect(s.TracerProvider().ForceFlush(ctx)).To(Succeed())
			spans := exporter.GetSpans()
			Expect(spans).To(HaveLen(1))
			Expect(spans[0].Name).To(Equal("exported"))
		})

		It("should restore the otel globals and shut tracing down on uninstall", func() {
			prevProvider := otel.GetTracerProvider()
			prevPropagator := otel.GetTextMapPropagator()
			prevErrorHandler := otel.GetErrorHandler()

			s, err := Install(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(otel.GetTextMapPropagator()).NotTo(BeIdenticalTo(prevPropagator))

			global.uninstall()

			Expect(otel.GetTracerProvider()).To(BeIdenticalTo(prevProvider))
			Expect(otel.GetTextMapPropagator()).To(BeIdenticalTo(prevPropagator))
			Expect(otel.GetErrorHandler()).To(BeIdenticalTo(prevErrorHandler))

			_, span := s.TracerProvider().Tracer("lantern").Start(ctx, "after shutdown")
			span.End()
			Expect(span.SpanContext().IsValid()).To(BeFalse())
			Expect(exporter.GetSpans()).To(BeEmpty())
		})

		It("should keep the trace filter when the log level changes", func() {
			s, err := Install(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(Modify("trace")).To(Succeed())

			layer, ok := s.Layer("trace")
			Expect(ok).To(BeTrue())
			Expect(layer.Filter().String()).To(Equal("info"))

			_, span := StartSpan(ctx, "lantern", zapcore.InfoLevel, "after reload")
			span.End()
			Expect(span.SpanContext().TraceID().IsValid()).To(BeTrue())
		})

		It("should degrade to logging only when the trace layer cannot be built", func() {
			cfg.ServiceName = ""

			s, err := Install(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TracerProvider()).To(BeNil())
			Expect(messages()).To(ContainElement("tracing disabled"))
		})

		It("should fail when exporter errors are fatal", func() {
			cfg.ServiceName = ""
			cfg.FailOnExporterError = true

			_, err := Install(ctx, cfg)
			Expect(err).To(MatchError(ErrExporterInstall))

			_, ok := Installed()
			Expect(ok).To(BeFalse())
			_, ok = GetReloadHandle()
			Expect(ok).To(BeFalse())
		})
	})
})
