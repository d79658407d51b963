package app

import (
	"context"
	"errors"
)

// Rescore 对历史区间内的帖子重新打分。
func (a *App) Rescore(ctx context.Context, opts RescoreOptions) error {
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("重打分范围为空，请检查 --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法重打分")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("重打分 dry-run：不会写入数据库")
	}

	posts, err := store.ListPostsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		a.Logger.Info().Msg("区间内没有帖子")
		return nil
	}

	scorer := a.newScorer()

	scored := 0
	skipped := 0
	failed := 0
	for _, post := range posts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pred, err := scorer.Score(ctx, post)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("source_id", post.SourceID).Msg("重打分失败")
			continue
		}
		if pred == nil {
			skipped++
			continue
		}

		if !opts.DryRun {
			if _, err := store.InsertPrediction(ctx, *pred); err != nil {
				failed++
				a.Logger.Error().Err(err).Str("source_id", post.SourceID).Msg("预测写入失败")
				continue
			}
		}
		scored++
	}

	a.Logger.Info().Int("scored", scored).Int("skipped", skipped).Int("failed", failed).Msg("重打分完成")
	if failed > 0 {
		return errors.New("部分帖子重打分失败，请检查日志")
	}
	return nil
}
