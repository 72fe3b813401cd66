package codec

// MaxBatchSize 单次批量解码的最大数量
const MaxBatchSize = 400

// Chunk 把 payloads 按 size 切分
func Chunk(payloads []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	var chunks [][]string
	for len(payloads) > size {
		chunks = append(chunks, payloads[:size:size])
		payloads = payloads[size:]
	}
	if len(payloads) > 0 {
		chunks = append(chunks, payloads)
	}
	return chunks
}
