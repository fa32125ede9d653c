package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/donnie4w/go-logger/logger"
)

// GetOutputFormat 确定输出格式
func GetOutputFormat(jsonOutput bool, outputPath string) string {
	if jsonOutput {
		return "json"
	}
	if outputPath == "" {
		return "txt"
	}
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	}
	return "txt"
}

// WriteResults 将扫描结果写入文件
func WriteResults(path string, format string, results []*TargetResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	switch format {
	case "json":
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)

	case "csv":
		writer := csv.NewWriter(file)
		defer writer.Flush()
		if err := writer.Write([]string{"url", "status_code", "title", "technology", "version", "confidence", "categories"}); err != nil {
			return err
		}
		for _, result := range results {
			for _, tech := range result.Technologies {
				record := []string{
					result.URL,
					fmt.Sprintf("%d", result.StatusCode),
					result.Title,
					tech.Name,
					tech.Version,
					fmt.Sprintf("%d", tech.Confidence),
					strings.Join(tech.Categories, ";"),
				}
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		for _, result := range results {
			techParts := make([]string, 0, len(result.Technologies))
			for _, tech := range result.Technologies {
				techParts = append(techParts, tech.String())
			}
			line := fmt.Sprintf("%s [%s]\n", result.URL, strings.Join(techParts, ", "))
			if _, err := file.WriteString(line); err != nil {
				return err
			}
		}
	}

	logger.Infof("扫描结果已保存到 %s", path)
	return nil
}
