package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/betbot/solbook/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Delete() error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// BaseDir 返回存储目录
func (s *JSONFileService) BaseDir() string {
	return s.baseDir
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     fmt.Sprintf("%s:%s:%s", prefix, id, tag),
	}
}

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath() string {
	// key 形如 "activity:<id>:<tag>"，这里做文件名安全化
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 先写临时文件再 rename，避免读到半截内容
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// Delete 删除数据，不存在时不报错
func (s *JSONFileStore) Delete() error {
	err := os.Remove(s.filePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadFields 加载带 persistence tag 的字段，不存在的字段保持原值
func LoadFields(obj interface{}, prefix, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", func(tag string, field reflect.StructField, value reflect.Value) error {
		ptr := reflect.New(value.Type())
		store := service.NewStore(prefix, id, tag)
		if err := store.Load(ptr.Interface()); err != nil {
			if errors.Is(err, ErrNotExists) {
				logger.Debugf("[LoadFields] key does not exist, id=%s, tag=%s", id, tag)
				return nil
			}
			return fmt.Errorf("load field %s: %w", field.Name, err)
		}
		value.Set(ptr.Elem())
		return nil
	})
}

// SaveFields 保存带 persistence tag 的字段
func SaveFields(obj interface{}, prefix, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", func(tag string, field reflect.StructField, value reflect.Value) error {
		store := service.NewStore(prefix, id, tag)
		if err := store.Save(value.Interface()); err != nil {
			return fmt.Errorf("save field %s: %w", field.Name, err)
		}
		return nil
	})
}

// iterateFieldsByTag 遍历结构体字段（包括嵌套结构体），对带 tag 的字段调用 fn
func iterateFieldsByTag(obj interface{}, tagName string, fn func(tag string, field reflect.StructField, value reflect.Value) error) error {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer to struct")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("object must be a non-nil pointer to struct")
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		// 跳过未导出的字段
		if !value.CanSet() {
			continue
		}

		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			if value.Kind() == reflect.Struct {
				if err := iterateFieldsByTag(value.Addr().Interface(), tagName, fn); err != nil {
					return err
				}
			}
			continue
		}

		// tag 可能带选项，如 "log,omitempty"
		if err := fn(strings.Split(tag, ",")[0], field, value); err != nil {
			return err
		}
	}
	return nil
}
