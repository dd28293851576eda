package user

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/phqcare/core"
	appfs "github.com/trezcool/phqcare/fs"
)

const commonPasswordsFile = "assets/common-passwords.txt"

var (
	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("รหัสผ่านต้องมีอย่างน้อย %d ตัวอักษร", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "รหัสผ่านต้องไม่มีช่องว่าง"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "รหัสผ่านต้องไม่เป็นตัวเลขทั้งหมด"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "รหัสผ่านคล้ายกับอีเมลมากเกินไป"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "รหัสผ่านนี้ใช้กันทั่วไปเกินไป"
	commonPasswords []string

	pwdPolicyTexts = map[string]string{
		pwdMinLenTag:    pwdMinLenText,
		pwdNoSpaceTag:   pwdNoSpaceText,
		pwdNotAllNumTag: pwdNotAllNumText,
		pwdAttrSimTag:   pwdAttrSimText,
		pwdNoCommonTag:  pwdNoCommonText,
	}
)

func init() {
	loadCommonPasswords()

	core.Validate.RegisterStructValidation(userStructValidation, NewUser{})
	for tag, text := range pwdPolicyTexts {
		core.RegisterCustomTranslation(tag, text)
	}
}

func loadCommonPasswords() {
	file, err := appfs.FS.Open(commonPasswordsFile)
	if err != nil {
		return
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			commonPasswords = append(commonPasswords, strings.ToLower(pwd))
		}
	}
	sort.Strings(commonPasswords)
}

// userStructValidation does struct level validation on NewUser.
func userStructValidation(sl validator.StructLevel) {
	if nu, ok := sl.Current().Interface().(NewUser); ok {
		if tag := checkPassword(nu.Password, nu.Email); tag != "" {
			sl.ReportError(nu.Password, "password", "Password", tag, "")
		}
	}
}

// ValidatePassword applies the password policy outside of struct validation
// (password resets, invite acceptance).
func ValidatePassword(pwd string, attrs ...string) error {
	tag := checkPassword(pwd, attrs...)
	if tag == "" {
		return nil
	}
	msg := pwdPolicyTexts[tag]
	return core.NewValidationError(errors.New(msg), core.FieldError{Field: "password", Error: msg})
}

// checkPassword returns the tag of the first policy rule `pwd` breaks:
// - minLen: 8
// - no whitespace
// - no all numeric
// - no user attrs similarity
// - no common password
func checkPassword(pwd string, attrs ...string) string {
	if pwd == "" {
		return "" // handled by `required`
	}

	runes := []rune(pwd)
	if len(runes) < pwdMinLen {
		return pwdMinLenTag
	}
	var digitCount int
	for _, char := range runes {
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
	}
	if digitCount == len(runes) {
		return pwdNotAllNumTag
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		attr = strings.ToLower(attr)
		if getRatio(lpwd, attr) >= pwdMaxSim {
			return pwdAttrSimTag
		}
		// the local part of an email alone is a common choice
		if at := strings.IndexByte(attr, '@'); at > 0 && getRatio(lpwd, attr[:at]) >= pwdMaxSim {
			return pwdAttrSimTag
		}
	}

	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) && commonPasswords[idx] == lpwd {
		return pwdNoCommonTag
	}
	return ""
}
