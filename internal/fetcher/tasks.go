package fetcher

import (
	"context"

	"github.com/eleven/artcache/internal/metrics"
	"github.com/eleven/artcache/internal/playlist"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/internal/task"
	"github.com/eleven/artcache/pkg/types"
)

func (f *Fetcher) onComplete(target types.BindTarget) task.CompleteFunc {
	return func(t *task.Task, img *types.CachedImage) {
		f.complete(target, t, img, nil)
	}
}

// artworkTask resolves the request key through memory, disk, embedded art and
// the remote providers
func (f *Fetcher) artworkTask(kind string, target types.BindTarget) task.Options {
	return task.Options{
		Kind: kind,
		Resolve: func(ctx context.Context, t *task.Task) (*types.CachedImage, error) {
			return f.lookup(ctx, sourceOf(t.Request()), t.Checkpoint)
		},
		OnComplete: f.onComplete(target),
		Dispatcher: f.dispatcher,
	}
}

// simpleTask is artworkTask with the result scaled to the request bounds
func (f *Fetcher) simpleTask(target types.BindTarget) task.Options {
	opts := f.artworkTask(KindSimple, target)
	opts.PostProcess = func(ctx context.Context, t *task.Task, img *types.CachedImage) (*types.CachedImage, error) {
		return fitted(img, t.Request()), nil
	}
	return opts
}

// blurTask resolves the unblurred image under sourceKey and caches the
// blurred copy in memory under the request key
func (f *Fetcher) blurTask(sourceKey string, target types.BindTarget) task.Options {
	return task.Options{
		Kind: KindBlur,
		Resolve: func(ctx context.Context, t *task.Task) (*types.CachedImage, error) {
			src := sourceOf(t.Request())
			src.key = sourceKey
			return f.lookup(ctx, src, t.Checkpoint)
		},
		PostProcess: func(ctx context.Context, t *task.Task, img *types.CachedImage) (*types.CachedImage, error) {
			blurred := types.NewCachedImage(f.effects.Blur(img.Image))
			if err := t.Checkpoint(); err != nil {
				return nil, err
			}
			f.memory.Put(t.Key(), blurred)
			return blurred, nil
		},
		OnComplete: f.onComplete(target),
		Dispatcher: f.dispatcher,
	}
}

// playlistTask serves playlist artwork. While the artwork is current it comes
// from the caches, and shown (the image the target already displays) is
// returned as is. Otherwise it is recomputed.
func (f *Fetcher) playlistTask(kind string, pk playlist.Kind, shown *types.CachedImage, target types.BindTarget) task.Options {
	return task.Options{
		Kind: kind,
		Resolve: func(ctx context.Context, t *task.Task) (*types.CachedImage, error) {
			key := t.Key()
			id := t.Request().PlaylistID

			if !f.playlists.NeedsUpdate(ctx, id, pk) {
				if shown != nil {
					return shown, nil
				}
				if img := f.memory.Get(key); img != nil {
					return img, nil
				}
				if f.disk != nil {
					if img := f.disk.Get(key); img != nil {
						f.metrics.RecordCacheHit(metrics.LevelDisk)
						f.memory.Put(key, img)
						return img, nil
					}
				}
			}
			if err := t.Checkpoint(); err != nil {
				return nil, err
			}

			var (
				img *types.CachedImage
				err error
			)
			if pk == playlist.KindCover {
				img, err = f.playlists.ComputeCover(ctx, id)
			} else {
				img, err = f.playlists.ComputeArtistImage(ctx, id)
			}
			if err != nil {
				return nil, err
			}
			if img != nil {
				f.store(key, img, t.Checkpoint)
			}
			return img, nil
		},
		OnComplete: func(t *task.Task, img *types.CachedImage) {
			f.complete(target, t, img, shown)
		},
		Dispatcher: f.dispatcher,
	}
}

// fitted scales img to the request bounds, if it has any
func fitted(img *types.CachedImage, req task.Request) *types.CachedImage {
	if img == nil || req.MaxWidth <= 0 || req.MaxHeight <= 0 {
		return img
	}
	if img.Width() <= req.MaxWidth && img.Height() <= req.MaxHeight {
		return img
	}
	return types.NewCachedImage(render.Fit(img.Image, req.MaxWidth, req.MaxHeight))
}
