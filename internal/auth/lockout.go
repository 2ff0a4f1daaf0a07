package auth

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LockoutConfig はサインイン失敗によるロックアウトの設定。
type LockoutConfig struct {
	MaxFailures     int           // ウィンドウ内に許容する失敗回数
	Window          time.Duration // 失敗回数が全回復するまでの時間
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

type emailLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Lockout はメールアドレスごとにサインイン失敗回数を制限する。
// 失敗1回につきトークンを1つ消費し、トークンが尽きると一時的にロックする。
type Lockout struct {
	config LockoutConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*emailLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLockout はLockoutを生成し、バックグラウンドでクリーンアップを開始する。
func NewLockout(config LockoutConfig) *Lockout {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	l := &Lockout{
		config:   config,
		now:      time.Now,
		limiters: make(map[string]*emailLimiter),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *Lockout) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Locked はメールアドレスがロック中かどうかを返す。
func (l *Lockout) Locked(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.limiters[normalizeEmail(email)]
	if !ok {
		return false
	}
	return el.limiter.TokensAt(l.now()) < 1
}

// RecordFailure はサインイン失敗を記録する。
func (l *Lockout) RecordFailure(email string) {
	now := l.now()
	key := normalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.limiters[key]
	if !ok {
		limit := rate.Every(l.config.Window / time.Duration(l.config.MaxFailures))
		el = &emailLimiter{limiter: rate.NewLimiter(limit, l.config.MaxFailures)}
		l.limiters[key] = el
	}
	el.lastAccess = now
	el.limiter.AllowN(now, 1)
}

// Reset はサインイン成功時に失敗回数をリセットする。
func (l *Lockout) Reset(email string) {
	l.mu.Lock()
	delete(l.limiters, normalizeEmail(email))
	l.mu.Unlock()
}

// entries は失敗を記録中のメールアドレスの数を返す。
func (l *Lockout) entries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Lockout) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup はロックアウトウィンドウを過ぎても更新のないエントリを削除する。
func (l *Lockout) cleanup() {
	ttl := l.config.Window
	if ttl < l.config.CleanupInterval {
		ttl = l.config.CleanupInterval
	}
	now := l.now()

	l.mu.Lock()
	for key, el := range l.limiters {
		if now.Sub(el.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
	l.mu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
