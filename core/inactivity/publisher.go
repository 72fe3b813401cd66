package inactivity

import (
	"context"
	"errors"

	"QFMBot/model"
)

// multiPublisher 把快照同时发给多个接收方
type multiPublisher []Publisher

// Publishers 合并多个接收方，忽略 nil，没有接收方时返回 nil
func Publishers(ps ...Publisher) Publisher {
	var out multiPublisher
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, snap model.TrackingSnapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiPublisher) Remove(ctx context.Context, sessionID string) error {
	var errs []error
	for _, p := range m {
		if err := p.Remove(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
