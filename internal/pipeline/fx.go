package pipeline

import (
	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/purge"
	reconciliationdomain "github.com/smallbiznis/billableusage/internal/reconciliation/domain"
	"github.com/smallbiznis/billableusage/internal/stream"
	"go.uber.org/fx"
)

// ProducerModule provides the outgoing side only, for processes that do not
// consume topics.
var ProducerModule = fx.Module("pipeline.producer",
	fx.Provide(
		NewCodec,
		NewProducer,
		func(p *Producer) billabledomain.Producer { return p },
		func(p *Producer) reconciliationdomain.RetryProducer { return p },
		func(p *Producer) purge.TriggerProducer { return p },
	),
)

// Module adds the topic consumers.
var Module = fx.Module("pipeline",
	fx.Provide(NewHandlers),
	fx.Invoke(func(h *Handlers, sub stream.Subscriber) {
		h.Register(sub)
	}),
)
