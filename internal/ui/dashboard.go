package ui

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>PMP GraphQL Gateway - Operations</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <script src="https://code.jquery.com/jquery-3.7.1.min.js"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8">
        <div class="bg-white rounded-lg shadow-md p-6 mb-6">
            <div class="flex justify-between items-center">
                <div>
                    <h1 class="text-3xl font-bold text-gray-800">PMP GraphQL Gateway</h1>
                    <p class="text-gray-600 mt-1">Operations Dashboard</p>
                </div>
                <div class="flex gap-4">
                    <div class="text-right">
                        <div class="text-2xl font-bold text-blue-600" id="total-operations">0</div>
                        <div class="text-sm text-gray-600">Total</div>
                    </div>
                    <div class="text-right">
                        <div class="text-2xl font-bold text-green-600" id="ok-operations">0</div>
                        <div class="text-sm text-gray-600">Succeeded</div>
                    </div>
                    <div class="text-right">
                        <div class="text-2xl font-bold text-red-600" id="failed-operations">0</div>
                        <div class="text-sm text-gray-600">Failed</div>
                    </div>
                </div>
            </div>
            <div class="mt-4 flex gap-2">
                <select id="type-filter" class="border rounded px-2">
                    <option value="">All operations</option>
                    <option value="query">Queries</option>
                    <option value="mutation">Mutations</option>
                    <option value="subscription">Subscriptions</option>
                </select>
                <button id="refresh-btn" class="bg-blue-500 hover:bg-blue-700 text-white font-bold py-2 px-4 rounded">Refresh Now</button>
                <button id="clear-btn" class="bg-red-500 hover:bg-red-700 text-white font-bold py-2 px-4 rounded">Clear All</button>
                <label class="flex items-center ml-4">
                    <input type="checkbox" id="auto-refresh" checked class="mr-2">
                    <span class="text-gray-700">Auto-refresh (2s)</span>
                </label>
            </div>
        </div>
        <div class="bg-white rounded-lg shadow-md p-6">
            <h2 class="text-xl font-bold text-gray-800 mb-4">Recent Operations</h2>
            <div id="operations-container"><p class="text-gray-500 text-center py-8">Loading operations...</p></div>
        </div>
    </div>
    <script>
        let autoRefreshInterval = null;
        function fetchOperations() {
            $.get('/api/operations', { type: $('#type-filter').val() }, function(data) {
                renderOperations(data);
                updateStats(data);
            }).fail(function() {
                $('#operations-container').html('<p class="text-red-500 text-center py-8">Failed to load operations</p>');
            });
        }
        function updateStats(operations) {
            const total = operations.length;
            const ok = operations.filter(o => o.status_code < 400 && o.error_count === 0).length;
            $('#total-operations').text(total);
            $('#ok-operations').text(ok);
            $('#failed-operations').text(total - ok);
        }
        function renderOperations(operations) {
            if (operations.length === 0) {
                $('#operations-container').html('<p class="text-gray-500 text-center py-8">No operations yet</p>');
                return;
            }
            let html = '';
            operations.forEach(function(op) {
                const failed = op.status_code >= 400 || op.error_count > 0;
                const borderClass = failed ? 'border-red-500' : 'border-green-500';
                const typeBadge = '<span class="bg-blue-100 text-blue-800 text-xs font-semibold px-2.5 py-0.5 rounded">' +
                    escapeHtml((op.operation_type || 'unknown').toUpperCase()) + '</span>';
                const timestamp = new Date(op.timestamp).toLocaleString();
                const statusClass = op.status_code < 300 ? 'text-green-600' : op.status_code >= 400 ? 'text-red-600' : 'text-yellow-600';
                const millis = (op.duration_ns / 1e6).toFixed(2);
                html += '<div class="border-l-4 ' + borderClass + ' bg-gray-50 p-4 mb-4 rounded">';
                html += '  <div class="flex justify-between items-start mb-2">';
                html += '    <div class="flex items-center gap-2">';
                html += '      <span class="font-bold text-lg">' + escapeHtml(op.method) + '</span>';
                html += '      <span class="text-gray-700">' + escapeHtml(op.operation_name || op.uri) + '</span>';
                html += '      ' + typeBadge;
                html += '    </div>';
                html += '    <div class="text-right">';
                html += '      <div class="text-sm text-gray-600">' + timestamp + ' (' + millis + ' ms)</div>';
                html += '      <div class="text-sm text-gray-500">' + escapeHtml(op.remote_addr) + '</div>';
                html += '    </div>';
                html += '  </div>';
                html += '  <div class="mb-2"><span class="text-sm text-gray-600">Status: </span>';
                html += '    <span class="text-sm font-semibold ' + statusClass + '">' + op.status_code + '</span>';
                if (op.error_count > 0) {
                    html += '    <span class="text-sm text-red-600 ml-2">' + op.error_count + ' error(s) ' + escapeHtml(op.error_class || '') + '</span>';
                }
                html += '  </div>';
                if (op.query) {
                    html += '  <details class="mt-2"><summary class="text-sm font-semibold text-gray-700 cursor-pointer">Query</summary>';
                    html += '    <pre class="bg-white p-2 mt-1 rounded text-xs overflow-x-auto">' + escapeHtml(op.query) + '</pre></details>';
                }
                html += '</div>';
            });
            $('#operations-container').html(html);
        }
        function escapeHtml(text) {
            if (!text) return '';
            const map = { '&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;', "'": '&#039;' };
            return text.toString().replace(/[&<>"']/g, function(m) { return map[m]; });
        }
        function clearOperations() {
            if (confirm('Are you sure you want to clear all operation logs?')) {
                $.post('/api/clear', function() { fetchOperations(); }).fail(function() { alert('Failed to clear operations'); });
            }
        }
        function updateAutoRefresh() {
            if ($('#auto-refresh').is(':checked')) {
                if (!autoRefreshInterval) {
                    autoRefreshInterval = setInterval(fetchOperations, 2000);
                }
            } else if (autoRefreshInterval) {
                clearInterval(autoRefreshInterval);
                autoRefreshInterval = null;
            }
        }
        $(document).ready(function() {
            $('#refresh-btn').click(fetchOperations);
            $('#clear-btn').click(clearOperations);
            $('#type-filter').change(fetchOperations);
            $('#auto-refresh').change(updateAutoRefresh);
            fetchOperations();
            updateAutoRefresh();
        });
    </script>
</body>
</html>
`
