// Package mobile provides FFI exports for mobile platforms (Android/iOS).
// All exported functions use C calling convention and can be called from Dart FFI.
// The //export directives automatically generate C function declarations.
//
// Every function returns a JSON envelope {"ok":bool,"data":...,"error":{...}}
// as a C string that must be released with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

var core bridge

//export Init
func Init(options *C.char) *C.char {
	return C.CString(core.Init(C.GoString(options)))
}

//export Close
func Close() *C.char {
	return C.CString(core.Close())
}

//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.LastError())
}

//export PollEvents
func PollEvents() *C.char {
	return C.CString(core.PollEvents())
}

//export SignIn
func SignIn(userID *C.char) *C.char {
	return C.CString(core.SignIn(C.GoString(userID)))
}

//export SignOut
func SignOut() *C.char {
	return C.CString(core.SignOut())
}

//export SetOnline
func SetOnline(online C.int) *C.char {
	return C.CString(core.SetOnline(online != 0))
}

//export SyncNow
func SyncNow() *C.char {
	return C.CString(core.SyncNow())
}

//export Status
func Status() *C.char {
	return C.CString(core.Status())
}

//export FoodAdd
func FoodAdd(item *C.char) *C.char {
	return C.CString(core.FoodAdd(C.GoString(item)))
}

//export FoodUpdate
func FoodUpdate(id, item *C.char) *C.char {
	return C.CString(core.FoodUpdate(C.GoString(id), C.GoString(item)))
}

//export FoodList
func FoodList(page, pageSize C.int) *C.char {
	return C.CString(core.FoodList(int(page), int(pageSize)))
}

//export FoodRemove
func FoodRemove(id *C.char) *C.char {
	return C.CString(core.FoodRemove(C.GoString(id)))
}

//export FoodUndo
func FoodUndo(removed *C.char) *C.char {
	return C.CString(core.FoodUndo(C.GoString(removed)))
}

//export FoodDailySummary
func FoodDailySummary(date *C.char) *C.char {
	return C.CString(core.FoodDailySummary(C.GoString(date)))
}

//export FoodWeeklySummary
func FoodWeeklySummary(date *C.char) *C.char {
	return C.CString(core.FoodWeeklySummary(C.GoString(date)))
}

//export WeightAdd
func WeightAdd(entry *C.char) *C.char {
	return C.CString(core.WeightAdd(C.GoString(entry)))
}

//export WeightList
func WeightList(limit C.int) *C.char {
	return C.CString(core.WeightList(int(limit)))
}

//export WeightRemove
func WeightRemove(id *C.char) *C.char {
	return C.CString(core.WeightRemove(C.GoString(id)))
}

//export WeightStats
func WeightStats() *C.char {
	return C.CString(core.WeightStats())
}

//export WeightSetGoal
func WeightSetGoal(goal *C.char) *C.char {
	return C.CString(core.WeightSetGoal(C.GoString(goal)))
}

//export ExportData
func ExportData(options *C.char) *C.char {
	return C.CString(core.ExportData(C.GoString(options)))
}

//export ImportData
func ImportData(options *C.char) *C.char {
	return C.CString(core.ImportData(C.GoString(options)))
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
