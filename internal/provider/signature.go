package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMAC-SHA256（hex）
func SignHMACSHA256(secret []byte, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// 定数時間で比較する。hexとして読めなければ不一致。
func EqualSignature(expectedHex string, gotHex string) bool {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(gotHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
