package mlb

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/task"
)

// RawWriter 本地文件写入（对外导出）
type RawWriter interface {
	// WriteJSON 以缩进、键排序的JSON写入
	WriteJSON(ctx context.Context, path string, v any) error
	// ReadGames 读取比赛数据文件
	ReadGames(ctx context.Context, path string) ([]GameData, error)
	// WriteText 写入文本文件（报告）
	WriteText(ctx context.Context, path string, content string) error
	// WriteCSV 写入带表头的CSV
	WriteCSV(ctx context.Context, path string, header []string, rows [][]string) error
	// Remove 删除文件，文件不存在不视为错误
	Remove(ctx context.Context, path string) error
}

// ObjectStore 对象存储（对外导出）
type ObjectStore interface {
	// Upload 上传本地文件，返回对象键
	Upload(ctx context.Context, localPath string) (string, error)
	// Download 下载对象到本地路径，返回本地路径
	Download(ctx context.Context, key, localPath string) (string, error)
	// Delete 删除对象
	Delete(ctx context.Context, key string) error
}

// FileRawWriter 本地文件系统实现
type FileRawWriter struct{}

// NewFileRawWriter 创建文件写入器
func NewFileRawWriter() *FileRawWriter {
	return &FileRawWriter{}
}

// WriteJSON 写入JSON，对象键排序
func (w *FileRawWriter) WriteJSON(_ context.Context, path string, v any) error {
	data, err := sortedIndentJSON(v)
	if err != nil {
		return task.Permanentf("序列化 %s 失败: %w", path, err)
	}
	return writeFile(path, data)
}

// ReadGames 读取比赛数据
func (w *FileRawWriter) ReadGames(_ context.Context, path string) ([]GameData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, task.Permanentf("读取文件失败: %w", err)
	}
	var games []GameData
	if err := json.Unmarshal(data, &games); err != nil {
		return nil, task.Permanentf("文件 %s 不是合法的比赛数据: %w", path, err)
	}
	return games, nil
}

// WriteText 写入文本
func (w *FileRawWriter) WriteText(_ context.Context, path string, content string) error {
	return writeFile(path, []byte(content))
}

// WriteCSV 写入CSV，表头在第一行
func (w *FileRawWriter) WriteCSV(_ context.Context, path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return task.Permanentf("生成CSV失败: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return task.Permanentf("生成CSV失败: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// Remove 删除文件
func (w *FileRawWriter) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除文件 %s 失败: %w", path, err)
	}
	log.Printf("🗑️ [Sink] 已删除文件: %s", path)
	return nil
}

// sortedIndentJSON 经map中转，使对象键按字母序输出
func sortedIndentJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "    ")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return task.Transientf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return task.Transientf("写入文件 %s 失败: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LocalBucket 以本地目录模拟的对象存储
type LocalBucket struct {
	root string
	now  func() time.Time
}

// NewLocalBucket 创建本地桶
func NewLocalBucket(root string) *LocalBucket {
	return &LocalBucket{root: root, now: time.Now}
}

// Root 桶根目录
func (b *LocalBucket) Root() string { return b.root }

func (b *LocalBucket) objectPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", task.Permanentf("对象键不能为空")
	}
	return filepath.Join(b.root, clean), nil
}

// Upload 复制文件到桶，键为文件名
func (b *LocalBucket) Upload(_ context.Context, localPath string) (string, error) {
	key := filepath.Base(localPath)
	dst, err := b.objectPath(key)
	if err != nil {
		return "", err
	}
	if err := copyFile(localPath, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", task.Permanentf("上传失败，源文件不存在: %s", localPath)
		}
		return "", task.Transientf("上传 %s 失败: %w", localPath, err)
	}
	log.Printf("☁️ [Bucket] 已上传: %s -> %s", localPath, key)
	return key, nil
}

// Download 复制对象到本地
func (b *LocalBucket) Download(_ context.Context, key, localPath string) (string, error) {
	src, err := b.objectPath(key)
	if err != nil {
		return "", err
	}
	if err := copyFile(src, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", task.Permanentf("对象不存在: %s", key)
		}
		return "", task.Transientf("下载 %s 失败: %w", key, err)
	}
	return localPath, nil
}

// Delete 删除对象
func (b *LocalBucket) Delete(_ context.Context, key string) error {
	p, err := b.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除对象 %s 失败: %w", key, err)
	}
	log.Printf("🗑️ [Bucket] 已删除对象: %s", key)
	return nil
}

// KeyStorage 把桶的一个前缀目录作为持久化缓存存储
func (b *LocalBucket) KeyStorage(prefix string) cache.BlobStore {
	return &bucketBlobStore{bucket: b, prefix: strings.Trim(prefix, "/")}
}

// bucketBlobStore 对象存储上的缓存条目，每个键一个JSON文件
type bucketBlobStore struct {
	bucket *LocalBucket
	prefix string
}

type blobEnvelope struct {
	ExpiresAt int64  `json:"expires_at"` // UnixNano，0表示永不过期
	Payload   []byte `json:"payload"`
}

func (s *bucketBlobStore) path(key string) (string, error) {
	return s.bucket.objectPath(s.prefix + "/" + key + ".json")
}

func (s *bucketBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var env blobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("缓存条目损坏: %w", err)
	}
	if env.ExpiresAt > 0 && s.bucket.now().UnixNano() >= env.ExpiresAt {
		os.Remove(p)
		return nil, false, nil
	}
	return env.Payload, true, nil
}

func (s *bucketBlobStore) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	env := blobEnvelope{Payload: data}
	if ttl > 0 {
		env.ExpiresAt = s.bucket.now().Add(ttl).UnixNano()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return writeFile(p, raw)
}

func (s *bucketBlobStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *bucketBlobStore) Clear(_ context.Context) error {
	dir := filepath.Join(s.bucket.root, s.prefix)
	if s.prefix == "" {
		return fmt.Errorf("拒绝清空整个桶")
	}
	return os.RemoveAll(dir)
}

// 确保实现接口
var (
	_ RawWriter       = (*FileRawWriter)(nil)
	_ ObjectStore     = (*LocalBucket)(nil)
	_ cache.BlobStore = (*bucketBlobStore)(nil)
)
