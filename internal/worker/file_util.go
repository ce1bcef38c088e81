// internal/worker/file_util.go
package worker

import (
	"fmt"
	"sync/atomic"
	"time"
)

// 아카이브 / DLQ 파일명 규칙:
//
//	<unix>_<instance>_<counter>.log.gz
//
// 예:
//
//	1764721594_host1_000042.log.gz
//
// 문자열 정렬 = 시간 정렬. DLQ 는 이 순서로 가장 오래된 파일부터 처리하고,
// TTL 도 prefix 의 unix 초로 판단한다.
const archiveExt = ".log.gz"

var globalCounter uint64

// nowFunc 는 테스트에서 교체한다.
var nowFunc = time.Now

// NextCounter 는 1e6 에서 0 으로 돌아가는 순번.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.log.gz 를 만든다.
func NewFilename(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d%s", nowFunc().Unix(), instanceID, NextCounter(), archiveExt)
}

// BuildS3Key
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 파티션은 UTC 기준.
func BuildS3Key(prefix, filename string) string {
	now := nowFunc().UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, now.Format("2006-01-02"), now.Format("15"), filename)
}
