package mlb

import (
	"context"

	"github.com/LENAX/statflow/pkg/core/task"
)

// QualityCheck 检查raw文件中的比赛数量，不足min时返回PermanentTaskError
func QualityCheck(ctx context.Context, raw RawWriter, path string, min int) error {
	games, err := raw.ReadGames(ctx, path)
	if err != nil {
		return err
	}
	if len(games) < min {
		return task.Permanentf("数据不足：文件 %s 中只有 %d 场比赛（至少需要 %d 场）", path, len(games), min)
	}
	return nil
}
