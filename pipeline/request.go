package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"resyncbot/logger"
)

func (r *Request) GetUrl() string {
	return r.Url
}

func (r *Request) GetMethod() string {
	return r.Method
}

func (r *Request) IsPost() bool {
	return r.Method == "POST"
}

func (r *Request) GetHeaders() []Headers {
	return r.Headers
}

func (r *Request) GetPayload() interface{} {
	return r.Payload
}

func (r *Request) AddHeader(key string, value string) {
	r.Headers = append(r.Headers, Headers{Key: key, Value: value})
}

func getFileContentType(file *os.File) (string, error) {
	// Only the first 512 bytes are used to detect content type
	buffer := make([]byte, 512)
	_, err := file.Read(buffer)
	if err != nil {
		return "", err
	}

	// Reset the file pointer to the beginning
	_, err = file.Seek(0, 0)
	if err != nil {
		return "", err
	}

	contentType := http.DetectContentType(buffer)

	if contentType == "application/octet-stream" {
		name := strings.ToLower(file.Name())

		if strings.HasSuffix(name, ".mp3") {
			contentType = "audio/mpeg"
		}

		if strings.HasSuffix(name, ".mp4") {
			contentType = "video/mp4"
		}

		if strings.HasSuffix(name, ".webm") {
			contentType = "video/webm"
		}

		if strings.HasSuffix(name, ".wav") {
			contentType = "audio/wav"
		}

		if strings.HasSuffix(name, ".mov") {
			contentType = "video/quicktime"
		}
	}

	return contentType, nil
}

// Call executes the request against the backend. A FileName turns the
// request into a multipart upload; otherwise POSTs carry the Payload as
// JSON. The response is decoded into `response`, which may be a *string
// for endpoints that return plain text.
func (r *Request) Call(ctx context.Context, client *http.Client, response interface{}) error {
	var jsonData []byte
	var err error
	var reqBody *bytes.Buffer

	if r.FileName != "" {
		reqBody = &bytes.Buffer{}
		writer := multipart.NewWriter(reqBody)
		file, errFile := os.Open(r.FileName)
		if errFile != nil {
			return fmt.Errorf("failed to open file: %w", errFile)
		}
		defer file.Close()

		contentType, err := getFileContentType(file)
		if err != nil {
			return fmt.Errorf("failed to get content type: %w", err)
		}

		// Create form file with content type
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(r.FileName)))
		h.Set("Content-Type", contentType)

		part, errFile := writer.CreatePart(h)
		if errFile != nil {
			return fmt.Errorf("failed to create form part: %w", errFile)
		}

		bytesWritten, errFile := io.Copy(part, file)
		if errFile != nil {
			return fmt.Errorf("failed to copy file content: %w", errFile)
		}
		logger.Debug("Copied bytes to form file", "bytes", bytesWritten)

		// Add form fields
		for _, field := range r.Fields {
			err := writer.WriteField(field.Key, field.Value)
			if err != nil {
				return fmt.Errorf("failed to write field: %w", err)
			}
		}

		err = writer.Close()
		if err != nil {
			return fmt.Errorf("failed to close writer: %w", err)
		}

		r.AddHeader("Content-Type", writer.FormDataContentType())

	} else if r.IsPost() {
		jsonData, err = json.Marshal(r.GetPayload())
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}

		reqBody = bytes.NewBuffer(jsonData)
		r.AddHeader("Content-Type", "application/json")
	}

	if reqBody == nil {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, r.GetMethod(), r.GetUrl(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create new request: %w", err)
	}

	for _, header := range r.GetHeaders() {
		req.Header.Set(header.Key, header.Value)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	// Some endpoints return plain text rather than JSON
	if strPtr, ok := response.(*string); ok {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		*strPtr = string(bodyBytes)
	} else if response != nil {
		err = json.NewDecoder(resp.Body).Decode(response)
		if err != nil {
			return fmt.Errorf("failed to decode JSON response: %w", err)
		}
	}

	return nil
}
