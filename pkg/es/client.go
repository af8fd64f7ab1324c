// Package es 提供了学习资料全文索引的 Elasticsearch 客户端。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"innovacollab/internal/config"
	"innovacollab/internal/model"
	"innovacollab/pkg/log"
)

const materialMapping = `{
	"mappings": {
		"properties": {
			"material_id":  { "type": "long" },
			"room_id":      { "type": "long" },
			"author_id":    { "type": "long" },
			"title":        { "type": "text" },
			"description":  { "type": "text" },
			"text_content": { "type": "text" },
			"access_level": { "type": "keyword" }
		}
	}
}`

// MaterialIndex 封装对资料索引的读写。
type MaterialIndex struct {
	client *elasticsearch.Client
	index  string
}

// InitES 初始化 Elasticsearch 客户端，并在索引不存在时创建。
func InitES(esCfg config.ElasticsearchConfig) (*MaterialIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}
	idx := &MaterialIndex{client: client, index: esCfg.IndexName}
	return idx, idx.createIndexIfNotExists()
}

// NewMaterialIndex 使用已有客户端构造索引访问器。
func NewMaterialIndex(client *elasticsearch.Client, index string) *MaterialIndex {
	return &MaterialIndex{client: client, index: index}
}

func (m *MaterialIndex) createIndexIfNotExists() error {
	res, err := m.client.Indices.Exists([]string{m.index})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", m.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = m.client.Indices.Create(m.index, m.client.Indices.Create.WithBody(strings.NewReader(materialMapping)))
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", m.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.String())
	}
	log.Infof("索引 '%s' 创建成功", m.index)
	return nil
}

// Index 写入或覆盖一份资料文档，文档 ID 即资料 ID。
func (m *MaterialIndex) Index(ctx context.Context, doc model.MaterialDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      m.index,
		DocumentID: strconv.FormatUint(uint64(doc.MaterialID), 10),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引资料到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index material")
	}
	return nil
}

// Delete 从索引中移除资料，文档不存在时视为成功。
func (m *MaterialIndex) Delete(ctx context.Context, materialID uint) error {
	req := esapi.DeleteRequest{
		Index:      m.index,
		DocumentID: strconv.FormatUint(uint64(materialID), 10),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete material from index: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score     float64 `json:"_score"`
			Source    model.MaterialDocument `json:"_source"`
			Highlight map[string][]string    `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在单个房间内检索资料。访问控制由调用方在结果上执行。
func (m *MaterialIndex) Search(ctx context.Context, roomID uint, query string, size int) ([]model.MaterialSearchHit, error) {
	q := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"title^3", "description^2", "text_content"},
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"room_id": roomID},
				},
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"text_content": map[string]interface{}{"fragment_size": 160, "number_of_fragments": 1},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(q); err != nil {
		return nil, err
	}

	res, err := m.client.Search(
		m.client.Search.WithContext(ctx),
		m.client.Search.WithIndex(m.index),
		m.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]model.MaterialSearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hit := model.MaterialSearchHit{MaterialID: h.Source.MaterialID, Score: h.Score}
		if frags := h.Highlight["text_content"]; len(frags) > 0 {
			hit.Highlight = frags[0]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
