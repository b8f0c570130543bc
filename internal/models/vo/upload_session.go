// Package vo 定义视图对象（View Objects），由 Service 层返回给控制器。
package vo

// UploadSession 是由 temp/{uploadId}/ 列表推导出的上传进度视图，不做持久化。
type UploadSession struct {
	UploadID        string `json:"uploadId"`
	TotalChunks     int    `json:"totalChunks"`
	ReceivedIndices []int  `json:"receivedIndices"`
	// MissingIndices 只列出前若干个缺失序号，完整数量见 MissingCount。
	MissingIndices []int `json:"missingIndices"`
	MissingCount   int   `json:"missingCount"`
	ReceivedBytes  int64 `json:"receivedBytes"`
	// Extraneous 记录超出 [0,total) 的索引，通常意味着客户端 totalChunks 前后不一致。
	Extraneous []int `json:"extraneous,omitempty"`
	// DeclaredTotals 是各分片首次到达时登记的 totalChunks。
	DeclaredTotals []int `json:"declaredTotals,omitempty"`
}

// Consistent 判断已登记的 totalChunks 与本视图一致，且没有越界分片。
func (s *UploadSession) Consistent() bool {
	if s == nil || len(s.Extraneous) > 0 || len(s.DeclaredTotals) > 1 {
		return false
	}
	return len(s.DeclaredTotals) == 0 || s.DeclaredTotals[0] == s.TotalChunks
}

// Complete 当且仅当 [0,total) 中每个索引都已到达且 totalChunks 没有冲突。
func (s *UploadSession) Complete() bool {
	return s != nil && s.TotalChunks > 0 && s.MissingCount == 0 && s.Consistent()
}
