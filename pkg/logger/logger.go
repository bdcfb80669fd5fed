package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于按天切换）
	savedConfig Config
	// currentDay 当前日志文件对应的日期（2006-01-02）
	currentDay string
	// logMu 日志文件切换锁
	logMu sync.Mutex
	// nowFunc 便于测试替换
	nowFunc = time.Now
)

const timestampFormat = "06-01-02 15:04:05"

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	Format     string // text（默认）或 json
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	DailyFiles bool   // 是否按天命名日志文件：solbook_2026-01-02.log
	NoConsole  bool   // 不输出到 stdout（TUI 模式下使用）
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat, // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// dailyFileName 生成按天命名的日志文件名：logs/solbook.log -> logs/solbook_2026-01-02.log
func dailyFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := baseName[:len(baseName)-len(ext)]

	name := fmt.Sprintf("%s_%s%s", nameWithoutExt, day, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// build 按配置构建 logger，调用方持有 logMu
func build(config Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter(config.Format))

	var writers []io.Writer
	if !config.NoConsole {
		writers = append(writers, os.Stdout)
	}

	currentLogFile = ""
	if config.OutputFile != "" {
		logFilePath := config.OutputFile
		if config.DailyFiles {
			currentDay = nowFunc().Format("2006-01-02")
			logFilePath = dailyFileName(config.OutputFile, currentDay)
		}

		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return nil, err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = logFilePath
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	// 同时设置全局 logrus，第三方库里直接用 logrus 的地方也能写入文件
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(config.Format))
	return logger, nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger, err := build(config)
	if err != nil {
		return err
	}
	savedConfig = config
	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/solbook.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
	})
}

// CheckAndRotateLog 日期变化时切换到新的日志文件
func CheckAndRotateLog() error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.DailyFiles || savedConfig.OutputFile == "" {
		return nil
	}
	if nowFunc().Format("2006-01-02") == currentDay {
		return nil
	}

	oldLogFile := currentLogFile
	logger, err := build(savedConfig)
	if err != nil {
		return err
	}
	Logger = logger
	Logger.Infof("日志文件已切换: %s -> %s", oldLogFile, currentLogFile)
	return nil
}

// StartLogRotationChecker 后台每分钟检查一次日期，done 关闭后退出
func StartLogRotationChecker(done <-chan struct{}) {
	logMu.Lock()
	enabled := savedConfig.DailyFiles && savedConfig.OutputFile != ""
	logMu.Unlock()
	if !enabled {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := CheckAndRotateLog(); err != nil {
					Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Component 返回带 component 字段的日志上下文，各服务用它区分来源
func Component(name string) *logrus.Entry {
	return WithField("component", name)
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithFields(fields)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
