package pubsub

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

// Publication is one envelope bound for one topic.
type Publication struct {
	Topic    string
	Envelope *Envelope
}

// PublishBatch publishes pubs and returns their ids in input order.
// Publications sharing a non-empty ordering key go out one after another in
// slice order; distinct keys and unordered publications run concurrently.
// Once one fails nothing new is started, a failed key publishes none of its
// later messages, and the first error is returned.
func (c *Client) PublishBatch(ctx context.Context, pubs []Publication, opts ...PublishOption) ([]string, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	po := publishOptions{retry: c.opts.retry}
	for _, opt := range opts {
		opt(&po)
	}
	for i, p := range pubs {
		if p.Topic == "" {
			return nil, ErrPermanent(fmt.Errorf("publication %d: %w", i, ErrTopicRequired))
		}
		if p.Envelope == nil {
			return nil, ErrPermanent(fmt.Errorf("publication %d: %w", i, errors.New("pubsub: envelope required")))
		}
	}

	ids := make([]string, len(pubs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.batchConcurrency)
	for _, lane := range orderingLanes(pubs) {
		g.Go(func() error {
			for _, i := range lane {
				if err := gctx.Err(); err != nil {
					return err
				}
				id, err := c.publish(gctx, pubs[i].Topic, po.apply(pubs[i].Envelope), po.retry)
				if err != nil {
					return fmt.Errorf("publication %d to %s: %w", i, pubs[i].Topic, err)
				}
				ids[i] = id
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ids, err
	}
	return ids, nil
}

// PublishOperations publishes a routed batch; each operation's effective
// ordering key is applied to its message.
func (c *Client) PublishOperations(ctx context.Context, ops *schema.PublishOperations, opts ...PublishOption) ([]string, error) {
	pubs := make([]Publication, 0, ops.Len())
	for i := 0; i < ops.Len(); i++ {
		op := ops.PublishOperations[i]
		env, err := FromOperation(op)
		if err != nil {
			return nil, ErrPermanent(fmt.Errorf("publish operation %d: %w", i, err))
		}
		pubs = append(pubs, Publication{Topic: op.TopicID, Envelope: env})
	}
	return c.PublishBatch(ctx, pubs, opts...)
}

// orderingLanes groups publication indexes: one lane per ordering key in
// first-seen order, one lane per unordered publication.
func orderingLanes(pubs []Publication) [][]int {
	lanes := make([][]int, 0, len(pubs))
	byKey := map[string]int{}
	for i, p := range pubs {
		key := p.Envelope.OrderingKey
		if key == "" {
			lanes = append(lanes, []int{i})
			continue
		}
		if lane, ok := byKey[key]; ok {
			lanes[lane] = append(lanes[lane], i)
			continue
		}
		byKey[key] = len(lanes)
		lanes = append(lanes, []int{i})
	}
	return lanes
}
